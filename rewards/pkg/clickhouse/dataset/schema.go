package dataset

// FactSchema defines the structure of an append-only fact dataset in ClickHouse.
type FactSchema interface {
	// Name returns the dataset name (e.g., "tbw_forge_stats"); the table is "fact_" + Name.
	Name() string
	// Columns returns the column definitions in "name:type" format, in insert order.
	Columns() []string
}
