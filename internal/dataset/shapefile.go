package dataset

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"

	"github.com/spatialops/moran/internal/fieldmap"
)

// Default column layouts for fields whose source did not record a width.
const (
	defaultTextWidth    = 50
	defaultIntWidth     = 11
	defaultRealWidth    = 19
	defaultRealDecimals = 8
)

// ExportError reports a failure while writing the interchange copy of a
// dataset. It wraps the writer's underlying error.
type ExportError struct {
	Path string
	Err  error
}

func (e *ExportError) Error() string { return fmt.Sprintf("export %s: %v", e.Path, e.Err) }
func (e *ExportError) Unwrap() error { return e.Err }

// LoadError reports a missing or structurally invalid interchange dataset.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string { return fmt.Sprintf("load %s: %v", e.Path, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// Export writes a renamed copy of ds to path. The schema's field names are
// replaced through the mapping; geometry, CRS and attribute values are
// written verbatim. On any writer error the partial artifact is reported as
// an ExportError and must not be consumed by later stages.
func Export(ds *Dataset, m *fieldmap.Mapping, path string) error {
	fields := make([]shp.Field, len(ds.Fields))
	for i, f := range ds.Fields {
		short, ok := m.Short(f.Name)
		if !ok {
			return &ExportError{Path: path, Err: fmt.Errorf("no short name for field %q", f.Name)}
		}
		fields[i] = dbfField(short, f)
	}

	w, err := shp.Create(path, ds.GeometryType)
	if err != nil {
		return &ExportError{Path: path, Err: err}
	}
	w.SetFields(fields)

	for row, feat := range ds.Features {
		w.Write(feat.Shape)
		for col := range ds.Fields {
			if err := w.WriteAttribute(row, col, feat.Attrs[col]); err != nil {
				w.Close()
				return &ExportError{Path: path, Err: fmt.Errorf("feature %d, field %q: %w", row, ds.Fields[col].Name, err)}
			}
		}
	}
	w.Close()

	if ds.CRS != "" {
		if err := os.WriteFile(sidecarPath(path, ".prj"), []byte(ds.CRS), 0o644); err != nil {
			return &ExportError{Path: path, Err: fmt.Errorf("write prj sidecar: %w", err)}
		}
	}

	return nil
}

// Load opens the shapefile at path and copies it into a Dataset with no
// remaining dependency on the file. The file must be readable and carry at
// least one field and one feature.
func Load(path, name string) (*Dataset, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	defer r.Close()

	shpFields := r.Fields()
	if len(shpFields) == 0 {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("no attribute fields")}
	}

	ds := &Dataset{
		Name:         name,
		GeometryType: r.GeometryType,
		Fields:       make([]Field, len(shpFields)),
	}
	for i, f := range shpFields {
		ds.Fields[i] = fromDBFField(f)
	}

	for r.Next() {
		row, shape := r.Shape()
		attrs := make([]any, len(ds.Fields))
		for col, f := range ds.Fields {
			attrs[col] = parseAttribute(r.ReadAttribute(row, col), f.Type)
		}
		ds.Features = append(ds.Features, Feature{Shape: shape, Attrs: attrs})
	}
	if err := r.Err(); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	if len(ds.Features) == 0 {
		return nil, &LoadError{Path: path, Err: fmt.Errorf("no features")}
	}

	if wkt, err := os.ReadFile(sidecarPath(path, ".prj")); err == nil {
		ds.CRS = strings.TrimSpace(string(wkt))
	}

	return ds, nil
}

// dbfField converts a schema field to its DBF column definition under the
// given (already shortened) name.
func dbfField(short string, f Field) shp.Field {
	switch f.Type {
	case TypeInteger:
		width := f.Width
		if width == 0 {
			width = defaultIntWidth
		}
		return shp.NumberField(short, uint8(width))
	case TypeReal:
		width, decimals := f.Width, f.Precision
		if width == 0 {
			width = defaultRealWidth
		}
		if decimals == 0 {
			decimals = defaultRealDecimals
		}
		return shp.FloatField(short, uint8(width), uint8(decimals))
	default:
		width := f.Width
		if width == 0 {
			width = defaultTextWidth
		}
		return shp.StringField(short, uint8(width))
	}
}

// fromDBFField maps a DBF column back to a schema field. Numeric columns
// with no decimal places are integers; everything unrecognized is text.
func fromDBFField(f shp.Field) Field {
	field := Field{
		Name:      f.String(),
		Width:     int(f.Size),
		Precision: int(f.Precision),
	}
	switch f.Fieldtype {
	case 'N':
		if f.Precision == 0 {
			field.Type = TypeInteger
		} else {
			field.Type = TypeReal
		}
	case 'F':
		field.Type = TypeReal
	default:
		field.Type = TypeText
	}
	return field
}

func parseAttribute(raw, fieldType string) any {
	s := strings.TrimSpace(raw)
	switch fieldType {
	case TypeInteger:
		v, err := strconv.Atoi(s)
		if err != nil {
			return 0
		}
		return v
	case TypeReal:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0.0
		}
		return v
	default:
		return s
	}
}

// sidecarPath swaps the .shp extension for another sidecar extension.
func sidecarPath(shpPath, ext string) string {
	return strings.TrimSuffix(shpPath, ".shp") + ext
}
