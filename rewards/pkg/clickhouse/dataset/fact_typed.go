package dataset

import (
	"context"
	"fmt"
	"reflect"

	"github.com/malbeclabs/truebw/rewards/pkg/clickhouse"
)

// TypedFactDataset writes rows of struct type T to a fact dataset. Fields are mapped to
// columns with `ch:"column_name"` tags.
//
// Usage:
//
//	typed, err := NewTypedFactDataset[ForgeStatsRow](ds)
//	err = typed.WriteBatch(ctx, conn, rows)
type TypedFactDataset[T any] struct {
	dataset *FactDataset
	fields  []int
}

// NewTypedFactDataset checks that every column of the dataset is mapped by a field of T.
func NewTypedFactDataset[T any](dataset *FactDataset) (*TypedFactDataset[T], error) {
	var zero T
	rt := reflect.TypeOf(zero)
	if rt == nil || rt.Kind() != reflect.Struct {
		return nil, fmt.Errorf("type %T must be a struct", zero)
	}

	byTag := make(map[string]int, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		if tag := rt.Field(i).Tag.Get("ch"); tag != "" && tag != "-" {
			byTag[tag] = i
		}
	}

	fields := make([]int, len(dataset.cols))
	for i, col := range dataset.cols {
		idx, ok := byTag[col]
		if !ok {
			return nil, fmt.Errorf("column %s of %s has no field in %s", col, dataset.TableName(), rt.Name())
		}
		fields[i] = idx
	}
	return &TypedFactDataset[T]{dataset: dataset, fields: fields}, nil
}

// WriteBatch writes rows in column order.
func (t *TypedFactDataset[T]) WriteBatch(ctx context.Context, conn clickhouse.Connection, rows []T) error {
	return t.dataset.WriteBatch(ctx, conn, len(rows), func(i int) ([]any, error) {
		rv := reflect.ValueOf(rows[i])
		values := make([]any, len(t.fields))
		for j, idx := range t.fields {
			values[j] = rv.Field(idx).Interface()
		}
		return values, nil
	})
}
