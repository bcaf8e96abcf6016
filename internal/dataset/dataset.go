// Package dataset holds vector datasets in memory, independent of any file,
// and moves them in and out of the shapefile interchange format.
package dataset

import (
	"github.com/jonas-p/go-shp"
)

// Semantic field types carried by the interchange format.
const (
	TypeInteger = "integer"
	TypeReal    = "real"
	TypeText    = "text"
)

// Field describes one attribute column.
type Field struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Width     int    `json:"width"`
	Precision int    `json:"precision,omitempty"`
}

// Feature is one geometry with its attribute row. Attrs holds int, float64
// or string values, index-aligned with the dataset's fields.
type Feature struct {
	Shape shp.Shape
	Attrs []any
}

// Dataset is a vector dataset held entirely in memory: schema, coordinate
// reference system and features. Nothing in it references a file, so it
// stays valid after any backing file is deleted.
type Dataset struct {
	Name         string
	GeometryType shp.ShapeType

	// CRS is the coordinate reference system as WKT, empty when unknown.
	CRS string

	Fields   []Field
	Features []Feature
}

// FieldIndex returns the index of the named field, or -1.
func (d *Dataset) FieldIndex(name string) int {
	for i, f := range d.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// HasField reports whether the dataset has a field with the given name.
func (d *Dataset) HasField(name string) bool {
	return d.FieldIndex(name) >= 0
}

// FieldNames returns the field names in schema order.
func (d *Dataset) FieldNames() []string {
	names := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		names[i] = f.Name
	}
	return names
}

// Numeric returns the named field's values as float64s, skipping rows whose
// value is not numeric. ok is false when the field does not exist or is not
// a numeric type.
func (d *Dataset) Numeric(name string) (values []float64, ok bool) {
	idx := d.FieldIndex(name)
	if idx < 0 {
		return nil, false
	}
	switch d.Fields[idx].Type {
	case TypeInteger, TypeReal:
	default:
		return nil, false
	}

	values = make([]float64, 0, len(d.Features))
	for _, feat := range d.Features {
		switch v := feat.Attrs[idx].(type) {
		case int:
			values = append(values, float64(v))
		case float64:
			values = append(values, v)
		}
	}
	return values, true
}
