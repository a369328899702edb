package models

// Column is a single named value of a Row.
type Column struct {
	Name  string
	Value interface{}
}

// Row is an ordered list of columns. Column order is the positional order of the
// destination table and must not change between rows of the same table.
type Row struct {
	columns []Column
}

// NewRow returns an empty row with room for n columns
func NewRow(n int) *Row {
	return &Row{columns: make([]Column, 0, n)}
}

// Add appends a column and returns the row for chaining
func (r *Row) Add(name string, value interface{}) *Row {
	r.columns = append(r.columns, Column{Name: name, Value: value})
	return r
}

// Set replaces the value of an existing column, or appends it when absent
func (r *Row) Set(name string, value interface{}) *Row {
	for i := range r.columns {
		if r.columns[i].Name == name {
			r.columns[i].Value = value
			return r
		}
	}
	return r.Add(name, value)
}

// Get returns the value of the named column
func (r *Row) Get(name string) (interface{}, bool) {
	for _, c := range r.columns {
		if c.Name == name {
			return c.Value, true
		}
	}
	return nil, false
}

// Columns returns the column names in order
func (r *Row) Columns() []string {
	names := make([]string, len(r.columns))
	for i, c := range r.columns {
		names[i] = c.Name
	}
	return names
}

// Values returns the column values in order
func (r *Row) Values() []interface{} {
	values := make([]interface{}, len(r.columns))
	for i, c := range r.columns {
		values[i] = c.Value
	}
	return values
}

// Len returns the number of columns
func (r *Row) Len() int { return len(r.columns) }
