// Package definition loads package definitions from CUE, YAML or JSON files.
//
// Every input is unified with the embedded #Package schema, so all three
// formats are checked by the same rules. Struct-level rules that CUE cannot
// express are checked afterwards with validator tags.
package definition

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/installengine/pkg/engine"
	"github.com/openfroyo/installengine/pkg/props"
)

//go:embed schema.cue
var schemaSource string

// Format is the encoding of a definition file.
type Format string

const (
	FormatCUE  Format = "cue"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported definition format: %s", path)
	}
}

// ValidationError is a single problem found in a definition.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path of the error (e.g., "features.0.level").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// LoadError collects every problem found while loading a definition.
type LoadError struct {
	Errors []ValidationError
}

func (e *LoadError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.String()
	}
	return "invalid package definition: " + strings.Join(msgs, "; ")
}

// Loader parses and validates package definitions.
type Loader struct {
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
}

// NewLoader creates a new loader.
func NewLoader() (*Loader, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile package schema: %w", err)
	}

	return &Loader{
		ctx:       ctx,
		schema:    schema.LookupPath(cue.ParsePath("#Package")),
		validator: validator.New(),
	}, nil
}

// Load reads and validates the definition at path.
func Load(path string) (*Definition, error) {
	l, err := NewLoader()
	if err != nil {
		return nil, err
	}
	return l.Load(path)
}

// Load reads and validates the definition at path.
func (l *Loader) Load(path string) (*Definition, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition: %w", err)
	}
	return l.Parse(data, format, path)
}

// Parse validates a definition held in memory. filename is used in error positions.
func (l *Loader) Parse(data []byte, format Format, filename string) (*Definition, error) {
	val, err := l.compile(data, format, filename)
	if err != nil {
		return nil, err
	}

	val = l.schema.Unify(val)
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, &LoadError{Errors: convertCUEErrors(err)}
	}

	var def Definition
	if err := val.Decode(&def); err != nil {
		return nil, &LoadError{Errors: convertCUEErrors(err)}
	}
	def.Source = filename

	properties, err := extractProperties(val)
	if err != nil {
		return nil, &LoadError{Errors: []ValidationError{{File: filename, Path: "properties", Message: err.Error()}}}
	}
	def.Properties = properties

	if err := l.validator.Struct(&def); err != nil {
		return nil, &LoadError{Errors: convertValidatorErrors(filename, err)}
	}
	if errs := def.crossCheck(); len(errs) > 0 {
		for i := range errs {
			errs[i].File = filename
		}
		return nil, &LoadError{Errors: errs}
	}

	return &def, nil
}

func (l *Loader) compile(data []byte, format Format, filename string) (cue.Value, error) {
	switch format {
	case FormatCUE, FormatJSON:
	case FormatYAML:
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return cue.Value{}, &LoadError{Errors: []ValidationError{{File: filename, Message: err.Error()}}}
		}
		var err error
		data, err = json.Marshal(doc)
		if err != nil {
			return cue.Value{}, fmt.Errorf("failed to convert YAML definition: %w", err)
		}
	default:
		return cue.Value{}, fmt.Errorf("unsupported definition format: %s", format)
	}

	val := l.ctx.CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return cue.Value{}, &LoadError{Errors: convertCUEErrors(err)}
	}
	return val, nil
}

// extractProperties reads the properties struct in declaration order,
// rendering numbers and booleans the way the property store holds them.
func extractProperties(val cue.Value) ([]Property, error) {
	pv := val.LookupPath(cue.ParsePath("properties"))
	if !pv.Exists() {
		return nil, nil
	}

	iter, err := pv.Fields()
	if err != nil {
		return nil, err
	}

	var out []Property
	for iter.Next() {
		name := iter.Selector().Unquoted()
		v := iter.Value()

		var s string
		switch v.Kind() {
		case cue.StringKind:
			s, err = v.String()
		case cue.IntKind:
			var n int64
			n, err = v.Int64()
			s = strconv.FormatInt(n, 10)
		case cue.BoolKind:
			var b bool
			b, err = v.Bool()
			if b {
				s = "1"
			}
		default:
			err = fmt.Errorf("property %s has unsupported kind %s", name, v.Kind())
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Property{Name: name, Value: s})
	}
	return out, nil
}

// crossCheck verifies references between definition sections.
func (d *Definition) crossCheck() []ValidationError {
	var errs []ValidationError

	components := make(map[string]bool, len(d.Components))
	for i, c := range d.Components {
		if components[c.Name] {
			errs = append(errs, ValidationError{Path: fmt.Sprintf("components.%d.name", i), Message: "duplicate component " + c.Name})
		}
		components[c.Name] = true
	}

	features := make(map[string]bool, len(d.Features))
	for i, f := range d.Features {
		if features[f.Name] {
			errs = append(errs, ValidationError{Path: fmt.Sprintf("features.%d.name", i), Message: "duplicate feature " + f.Name})
		}
		features[f.Name] = true
		for _, c := range f.Components {
			if !components[c] {
				errs = append(errs, ValidationError{Path: fmt.Sprintf("features.%d.components", i), Message: "unknown component " + c})
			}
		}
	}
	for i, f := range d.Features {
		if f.Parent != "" && !features[f.Parent] {
			errs = append(errs, ValidationError{Path: fmt.Sprintf("features.%d.parent", i), Message: "unknown parent feature " + f.Parent})
		}
	}

	custom := make(map[string]bool, len(d.CustomActions))
	for i, ca := range d.CustomActions {
		if custom[ca.Name] {
			errs = append(errs, ValidationError{Path: fmt.Sprintf("custom_actions.%d.name", i), Message: "duplicate custom action " + ca.Name})
		}
		custom[ca.Name] = true
	}

	return errs
}

// Package builds the session package. Definition property defaults are
// applied first, then the product properties, then overrides.
func (d *Definition) Package(overrides map[string]string) (*engine.Package, error) {
	store := props.New()
	for _, p := range d.Properties {
		store.Set(p.Name, p.Value)
	}
	setDefault(store, "ProductName", d.Product.Name)
	setDefault(store, "ProductVersion", d.Product.Version)
	setDefault(store, "Manufacturer", d.Product.Manufacturer)
	setDefault(store, "ProductCode", d.Product.ProductCode)
	for name, value := range overrides {
		store.Set(name, value)
	}

	specs := make([]engine.FeatureSpec, 0, len(d.Features))
	for _, f := range d.Features {
		spec, err := f.spec()
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}

	comps := make([]engine.Component, 0, len(d.Components))
	for _, c := range d.Components {
		comp, err := c.component()
		if err != nil {
			return nil, err
		}
		comps = append(comps, comp)
	}

	product := engine.Product{
		Name:         d.Product.Name,
		Version:      d.Product.Version,
		Manufacturer: d.Product.Manufacturer,
		ProductCode:  d.Product.ProductCode,
	}
	return engine.NewPackage(product, store, specs, comps)
}

// Tables returns the sequence tables keyed by kind.
func (d *Definition) Tables() map[engine.TableKind][]engine.SequenceEntry {
	return map[engine.TableKind][]engine.SequenceEntry{
		engine.TableUI:      append([]engine.SequenceEntry(nil), d.Sequences.UI...),
		engine.TableExecute: append([]engine.SequenceEntry(nil), d.Sequences.Execute...),
	}
}

// Reader returns an in-memory reader over the sequence tables.
func (d *Definition) Reader() *engine.MemoryReader {
	return engine.NewMemoryReader(d.Tables())
}

// Dialog returns the named dialog.
func (d *Definition) Dialog(name string) (*Dialog, bool) {
	for i := range d.Dialogs {
		if d.Dialogs[i].Name == name {
			return &d.Dialogs[i], true
		}
	}
	return nil, false
}

func setDefault(store *props.Store, name, value string) {
	if value != "" && !store.Has(name) {
		store.Set(name, value)
	}
}

func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range errors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: errors.Details(e, nil),
		}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	return out
}

func convertValidatorErrors(filename string, err error) []ValidationError {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{File: filename, Message: err.Error()}}
	}
	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			File:    filename,
			Path:    fe.Namespace(),
			Message: fmt.Sprintf("failed on the '%s' rule", fe.Tag()),
		})
	}
	return out
}
