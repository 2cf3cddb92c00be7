// Package csvio reads and writes feature records as CSV.
//
// The header row declares the schema. Each cell is "name:type", optionally
// followed by "(length)" for strings and "?" for a nillable attribute, e.g.
// "name:string(40)?". A cell without a type is a string. The "@id" column
// holds feature ids; without it ids are generated as "<schema>.<row>".
// Geometries are WKT and temporal values RFC 3339. An empty cell is null.
package csvio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofeature/featsort/feature"
	"github.com/gofeature/featsort/ordering"
)

// IDColumn names the column holding feature ids.
const IDColumn = ordering.IDProperty

// ParseHeader builds a schema named name from the cells of a header row. It
// returns the column of the ids, or -1, and for every column the attribute
// index it fills, -1 for the id column.
func ParseHeader(name string, cells []string) (schema *feature.Schema, idCol int, columns []int, err error) {
	idCol = -1
	columns = make([]int, len(cells))
	var attrs []feature.Attribute
	for i, cell := range cells {
		cell = strings.TrimSpace(cell)
		if cell == IDColumn {
			if idCol >= 0 {
				return nil, -1, nil, fmt.Errorf("csvio: duplicate %s column", IDColumn)
			}
			idCol, columns[i] = i, -1
			continue
		}
		a, err := parseAttribute(cell)
		if err != nil {
			return nil, -1, nil, err
		}
		columns[i] = len(attrs)
		attrs = append(attrs, a)
	}
	schema, err = feature.NewSchema(name, attrs...)
	if err != nil {
		return nil, -1, nil, err
	}
	return schema, idCol, columns, nil
}

func parseAttribute(cell string) (feature.Attribute, error) {
	var a feature.Attribute
	if rest, ok := strings.CutSuffix(cell, "?"); ok {
		a.Nillable, cell = true, rest
	}
	name, typ, found := strings.Cut(cell, ":")
	a.Name = strings.TrimSpace(name)
	if !found {
		a.Type = feature.TypeString
		return a, nil
	}
	typ, length, hasLength := strings.Cut(typ, "(")
	t, err := feature.ParseType(typ)
	if err != nil {
		return a, fmt.Errorf("csvio: column %q: %w", a.Name, err)
	}
	switch t {
	case feature.TypeOpaque, feature.TypeInvalid:
		return a, fmt.Errorf("csvio: column %q: type %v cannot be read from text", a.Name, t)
	}
	a.Type = t
	if hasLength {
		n, err := strconv.Atoi(strings.TrimSuffix(length, ")"))
		if err != nil || n < 0 || t != feature.TypeString {
			return a, fmt.Errorf("csvio: column %q: bad length %q", a.Name, length)
		}
		a.Length = n
	}
	return a, nil
}

// HeaderCell formats a as a header cell understood by ParseHeader.
func HeaderCell(a feature.Attribute) string {
	var b strings.Builder
	b.WriteString(a.Name)
	b.WriteByte(':')
	b.WriteString(a.Type.String())
	if a.Length > 0 {
		fmt.Fprintf(&b, "(%d)", a.Length)
	}
	if a.Nillable {
		b.WriteByte('?')
	}
	return b.String()
}
