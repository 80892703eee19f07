package dataset

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

type FactDataset struct {
	log    *slog.Logger
	schema FactSchema
	cols   []string
}

func NewFactDataset(log *slog.Logger, schema FactSchema) (*FactDataset, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if schema == nil {
		return nil, errors.New("schema is required")
	}
	cols, err := extractColumnNames(schema.Columns())
	if err != nil {
		return nil, fmt.Errorf("failed to extract columns: %w", err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("schema %s has no columns", schema.Name())
	}
	return &FactDataset{
		log:    log,
		schema: schema,
		cols:   cols,
	}, nil
}

func (f *FactDataset) TableName() string {
	return "fact_" + f.schema.Name()
}

// Columns returns the column names in insert order.
func (f *FactDataset) Columns() []string {
	return f.cols
}

// extractColumnNames extracts column names from a slice of "name:type" format strings
func extractColumnNames(colDefs []string) ([]string, error) {
	names := make([]string, 0, len(colDefs))
	for _, colDef := range colDefs {
		parts := strings.SplitN(colDef, ":", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("invalid column definition %q: expected format 'name:type'", colDef)
		}
		names = append(names, strings.TrimSpace(parts[0]))
	}
	return names, nil
}
