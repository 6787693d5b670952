// Package query provides a fluent SQL builder with logical-field projection
// mapping and automatic parameter numbering.
package query

import "strings"

type projectedColumn struct {
	column string
	field  string
}

// ProjectionMap maps logical field names to table columns so that filter and
// sort criteria can reference fields without knowing the underlying schema.
type ProjectionMap struct {
	schema  string
	table   string
	alias   string
	columns []projectedColumn
	byField map[string]string
}

// NewProjectionMap creates a ProjectionMap for a table with the given alias.
func NewProjectionMap(schema, table, alias string) *ProjectionMap {
	return &ProjectionMap{
		schema:  schema,
		table:   table,
		alias:   alias,
		byField: make(map[string]string),
	}
}

// Project registers a column under a logical field name.
func (p *ProjectionMap) Project(column, field string) *ProjectionMap {
	qualified := p.alias + "." + column
	p.columns = append(p.columns, projectedColumn{column: qualified, field: field})
	p.byField[field] = qualified
	return p
}

// Column resolves a logical field name to its qualified column.
// Unknown fields resolve to themselves.
func (p *ProjectionMap) Column(field string) string {
	if col, ok := p.byField[field]; ok {
		return col
	}
	return field
}

// Columns returns the comma-joined projection list.
func (p *ProjectionMap) Columns() string {
	cols := make([]string, len(p.columns))
	for i, c := range p.columns {
		cols[i] = c.column
	}
	return strings.Join(cols, ", ")
}

// From returns the aliased table reference.
func (p *ProjectionMap) From() string {
	return p.schema + "." + p.table + " " + p.alias
}
