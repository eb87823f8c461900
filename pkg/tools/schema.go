package tools

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schema is a recursive JSON-schema descriptor for tool parameters.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []any              `json:"enum,omitempty"`
	Minimum     *float64           `json:"minimum,omitempty"`
	Maximum     *float64           `json:"maximum,omitempty"`
	MinLength   *int               `json:"minLength,omitempty"`
	MaxLength   *int               `json:"maxLength,omitempty"`
	Default     any                `json:"default,omitempty"`
}

// Object builds an object schema.
func Object(props map[string]*Schema, required ...string) *Schema {
	return &Schema{Type: "object", Properties: props, Required: required}
}

// String builds a string schema.
func String(description string) *Schema {
	return &Schema{Type: "string", Description: description}
}

// Integer builds an integer schema.
func Integer(description string) *Schema {
	return &Schema{Type: "integer", Description: description}
}

// Float returns a pointer to v for Minimum and Maximum.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v for MinLength and MaxLength.
func Int(v int) *int { return &v }

// ToMap renders the schema as plain JSON schema.
func (s *Schema) ToMap() map[string]any {
	if s == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}

	m := map[string]any{"type": s.Type}
	if s.Description != "" {
		m["description"] = s.Description
	}
	if s.Type == "object" || len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, p := range s.Properties {
			props[name] = p.ToMap()
		}
		m["properties"] = props
	}
	if len(s.Required) > 0 {
		m["required"] = append([]string(nil), s.Required...)
	}
	if s.Items != nil {
		m["items"] = s.Items.ToMap()
	}
	if len(s.Enum) > 0 {
		m["enum"] = append([]any(nil), s.Enum...)
	}
	if s.Minimum != nil {
		m["minimum"] = *s.Minimum
	}
	if s.Maximum != nil {
		m["maximum"] = *s.Maximum
	}
	if s.MinLength != nil {
		m["minLength"] = *s.MinLength
	}
	if s.MaxLength != nil {
		m["maxLength"] = *s.MaxLength
	}
	if s.Default != nil {
		m["default"] = s.Default
	}
	return m
}

// CompileSchema compiles s into a gojsonschema validator. An empty root type
// is treated as object.
func CompileSchema(s *Schema) (*gojsonschema.Schema, error) {
	root := s
	if s != nil && s.Type == "" {
		cp := *s
		cp.Type = "object"
		root = &cp
	}
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(root.ToMap()))
}

// ValidateParams checks params against schema and returns every violation.
func ValidateParams(schema *Schema, params map[string]any) []string {
	if schema == nil {
		return nil
	}
	compiled, err := CompileSchema(schema)
	if err != nil {
		return []string{fmt.Sprintf("invalid schema: %v", err)}
	}
	return validateCompiled(schema, compiled, params)
}

// diagnostic is one violation, keyed for a stable depth-first ordering.
type diagnostic struct {
	segments []string
	rank     int
	field    string
	msg      string
}

func validateCompiled(schema *Schema, compiled *gojsonschema.Schema, params map[string]any) []string {
	if schema == nil || compiled == nil {
		return nil
	}
	if schema.Type != "" && schema.Type != "object" {
		return []string{fmt.Sprintf("schema must be object type, got %q", schema.Type)}
	}
	if params == nil {
		params = map[string]any{}
	}

	result, err := compiled.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return []string{fmt.Sprintf("parameters could not be validated: %v", err)}
	}
	if result.Valid() {
		return nil
	}

	var diags []diagnostic
	mistyped := make(map[string]bool)
	for _, re := range result.Errors() {
		d := translate(schema, re)
		if re.Type() == "invalid_type" {
			mistyped[d.field] = true
		}
		diags = append(diags, d)
	}

	kept := diags[:0]
	for _, d := range diags {
		if mistyped[d.field] && d.rank != rankType {
			continue
		}
		kept = append(kept, d)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if c := compareSegments(kept[i].segments, kept[j].segments); c != 0 {
			return c < 0
		}
		return kept[i].rank < kept[j].rank
	})

	out := make([]string, len(kept))
	for i, d := range kept {
		out[i] = d.msg
	}
	return out
}

const (
	rankRequired = iota
	rankType
	rankEnum
	rankMin
	rankMax
	rankOther
)

func translate(root *Schema, re gojsonschema.ResultError) diagnostic {
	segments := fieldSegments(re.Field())
	sub, label := resolve(root, segments)
	d := diagnostic{segments: segments, field: strings.Join(segments, "."), rank: rankOther}

	display := label
	if display == "" {
		display = "parameter"
	}

	switch re.Type() {
	case "required":
		prop, _ := re.Details()["property"].(string)
		d.rank = rankRequired
		d.field = strings.Join(append(append([]string(nil), segments...), prop), ".")
		d.msg = "missing required " + joinPath(label, prop)
	case "invalid_type":
		d.rank = rankType
		d.msg = fmt.Sprintf("%s should be %s", display, sub.Type)
	case "enum":
		d.rank = rankEnum
		d.msg = fmt.Sprintf("%s must be one of %s", display, formatEnum(sub.Enum))
	case "number_gte":
		d.rank = rankMin
		d.msg = fmt.Sprintf("%s must be >= %s", display, formatNumber(deref(sub.Minimum)))
	case "number_lte":
		d.rank = rankMax
		d.msg = fmt.Sprintf("%s must be <= %s", display, formatNumber(deref(sub.Maximum)))
	case "string_gte":
		d.rank = rankMin
		d.msg = fmt.Sprintf("%s must be at least %d chars", display, derefInt(sub.MinLength))
	case "string_lte":
		d.rank = rankMax
		d.msg = fmt.Sprintf("%s must be at most %d chars", display, derefInt(sub.MaxLength))
	default:
		d.msg = fmt.Sprintf("%s: %s", display, re.Description())
	}
	return d
}

// fieldSegments splits a gojsonschema field such as "tags.1" or "(root)".
func fieldSegments(field string) []string {
	if field == "" || field == gojsonschema.STRING_CONTEXT_ROOT {
		return nil
	}
	return strings.Split(field, ".")
}

// resolve walks segments through s and returns the schema at that point and its
// display path, rendering array indices as tags[1].
func resolve(s *Schema, segments []string) (*Schema, string) {
	cur := s
	label := ""
	for _, seg := range segments {
		if cur == nil {
			label = joinPath(label, seg)
			continue
		}
		if cur.Type == "array" {
			label += "[" + seg + "]"
			cur = cur.Items
			continue
		}
		label = joinPath(label, seg)
		cur = cur.Properties[seg]
	}
	if cur == nil {
		cur = &Schema{}
	}
	return cur, label
}

func compareSegments(a, b []string) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] == b[i] {
			continue
		}
		ai, aerr := strconv.Atoi(a[i])
		bi, berr := strconv.Atoi(b[i])
		if aerr == nil && berr == nil {
			if ai < bi {
				return -1
			}
			return 1
		}
		if a[i] < b[i] {
			return -1
		}
		return 1
	}
	return len(a) - len(b)
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func derefInt(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}

func formatEnum(enum []any) string {
	parts := make([]string, len(enum))
	for i, e := range enum {
		parts[i] = fmt.Sprint(e)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
