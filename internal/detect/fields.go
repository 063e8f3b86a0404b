package detect

import (
	"strings"

	"github.com/juju/collections/set"
)

// FieldType classifies a layer field for report rendering.
type FieldType int

const (
	FieldOther FieldType = iota
	FieldText
	FieldNumeric
	FieldDate
)

func (t FieldType) String() string {
	switch t {
	case FieldText:
		return "text"
	case FieldNumeric:
		return "numeric"
	case FieldDate:
		return "date"
	default:
		return "other"
	}
}

// identityNames are never reported, whatever type the service gives them.
var identityNames = set.NewStrings("OBJECTID", "GLOBALID")

// FieldDescriptor describes one field of the layer.
type FieldDescriptor struct {
	Name     string
	Alias    string
	Type     FieldType
	Identity bool
}

// ParseFieldType maps an esriFieldType* name to a FieldType.
// The second result reports whether the type is an identity type.
func ParseFieldType(esriType string) (FieldType, bool) {
	switch esriType {
	case "esriFieldTypeString", "esriFieldTypeGUID":
		return FieldText, false
	case "esriFieldTypeSmallInteger", "esriFieldTypeInteger", "esriFieldTypeBigInteger",
		"esriFieldTypeSingle", "esriFieldTypeDouble":
		return FieldNumeric, false
	case "esriFieldTypeDate":
		return FieldDate, false
	case "esriFieldTypeOID":
		return FieldNumeric, true
	case "esriFieldTypeGlobalID":
		return FieldText, true
	default:
		return FieldOther, false
	}
}

// NewFieldDescriptor builds a descriptor from raw layer metadata.
func NewFieldDescriptor(name, alias, esriType string) FieldDescriptor {
	typ, identity := ParseFieldType(esriType)
	if alias == "" {
		alias = name
	}
	return FieldDescriptor{
		Name:     name,
		Alias:    alias,
		Type:     typ,
		Identity: identity || identityNames.Contains(strings.ToUpper(name)),
	}
}

// EditTracking holds the editor-tracking field names of a layer.
type EditTracking struct {
	CreationDateField string
	CreatorField      string
	EditDateField     string
	EditorField       string
}

// LayerInfo is the subset of layer metadata the pipeline needs.
type LayerInfo struct {
	Name     string
	Fields   []FieldDescriptor
	Tracking EditTracking
}

// FieldSet indexes field descriptors by upper-cased name.
type FieldSet struct {
	byName map[string]FieldDescriptor
	names  set.Strings
}

// NewFieldSet builds a FieldSet. Later duplicates win.
func NewFieldSet(fields []FieldDescriptor) *FieldSet {
	fs := &FieldSet{
		byName: make(map[string]FieldDescriptor, len(fields)),
		names:  set.NewStrings(),
	}
	for _, f := range fields {
		key := strings.ToUpper(f.Name)
		fs.byName[key] = f
		fs.names.Add(key)
	}
	return fs
}

// Lookup finds a field case-insensitively.
func (fs *FieldSet) Lookup(name string) (FieldDescriptor, bool) {
	f, ok := fs.byName[strings.ToUpper(name)]
	return f, ok
}

// Describe returns the descriptor for name, or a text descriptor aliased to
// the name itself when the layer does not know the field.
func (fs *FieldSet) Describe(name string) FieldDescriptor {
	if f, ok := fs.Lookup(name); ok {
		return f
	}
	return NewFieldDescriptor(name, name, "")
}

// Unknown returns the requested names that are not fields of the layer, in
// request order.
func (fs *FieldSet) Unknown(names []string) []string {
	var unknown []string
	for _, n := range names {
		if !fs.names.Contains(strings.ToUpper(n)) {
			unknown = append(unknown, n)
		}
	}
	return unknown
}

// Len returns the number of distinct fields.
func (fs *FieldSet) Len() int {
	return len(fs.names)
}

// WildcardFields is the fields-to-report value that selects every field.
const WildcardFields = "*"

// ResolveOutFields validates the requested report fields against the layer
// and returns the outFields list for the delta query. The wildcard needs no
// validation; an explicit list always gets the creation and creator tracking
// fields appended.
func ResolveOutFields(requested []string, fields *FieldSet, tracking EditTracking) ([]string, error) {
	if len(requested) == 0 || requested[0] == WildcardFields {
		return []string{WildcardFields}, nil
	}

	if unknown := fields.Unknown(requested); len(unknown) > 0 {
		return nil, &UnknownFieldError{Names: unknown}
	}

	out := make([]string, 0, len(requested)+2)
	out = append(out, requested...)
	if tracking.CreationDateField != "" {
		out = append(out, tracking.CreationDateField)
	}
	if tracking.CreatorField != "" {
		out = append(out, tracking.CreatorField)
	}
	return out, nil
}
