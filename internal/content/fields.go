package content

import (
	"fmt"
	"strings"
	"time"
)

type FieldType string

const (
	FieldText        FieldType = "text"
	FieldNumber      FieldType = "number"
	FieldBoolean     FieldType = "boolean"
	FieldDate        FieldType = "date"
	FieldSelect      FieldType = "select"
	FieldMultiSelect FieldType = "multiselect"
	FieldReference   FieldType = "reference"
	FieldImage       FieldType = "image"
	FieldMarkdown    FieldType = "markdown"
)

// FieldConfig describes one custom field of a collection. The validate
// function is bound once when the collection config is built, so per-edit
// dispatch is a single call rather than a type switch at every write.
type FieldConfig struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Type     FieldType `json:"type"`
	Required bool     `json:"required"`
	// Select / multiselect choices
	Options []string `json:"options,omitempty"`
	// Reference target collection slug
	ReferenceTo string `json:"referenceTo,omitempty"`

	validate func(any) error
}

// Validate checks a candidate value against the field's type rules.
// A nil value is rejected only for required fields.
func (f *FieldConfig) Validate(value any) error {
	if value == nil {
		if f.Required {
			return &ValidationError{Field: f.Name, Reason: "value is required"}
		}
		return nil
	}
	if f.validate == nil {
		return nil
	}
	if err := f.validate(value); err != nil {
		return &ValidationError{Field: f.Name, Reason: err.Error()}
	}
	return nil
}

// CollectionConfig is the schema of one collection: an ordered field list
// plus a URL pattern for public item links ({slug} and {fieldName} tokens).
type CollectionConfig struct {
	Slug       string
	Name       string
	URLPattern string
	Fields     []FieldConfig

	byName map[string]int
}

// NewCollectionConfig builds a collection schema and binds each field's
// validator. Field names must be unique and must not shadow the reserved
// top-level item fields.
func NewCollectionConfig(slug, name, urlPattern string, fields []FieldConfig) (CollectionConfig, error) {
	cfg := CollectionConfig{
		Slug:       slug,
		Name:       name,
		URLPattern: urlPattern,
		Fields:     make([]FieldConfig, len(fields)),
		byName:     make(map[string]int, len(fields)),
	}
	for i, field := range fields {
		if strings.TrimSpace(field.Name) == "" {
			return CollectionConfig{}, fmt.Errorf("field %d: name is required", i)
		}
		if IsTopLevel(field.Name) {
			return CollectionConfig{}, fmt.Errorf("field %q: name is reserved", field.Name)
		}
		if _, dup := cfg.byName[field.Name]; dup {
			return CollectionConfig{}, fmt.Errorf("field %q: duplicate name", field.Name)
		}
		bound, err := bindValidator(field)
		if err != nil {
			return CollectionConfig{}, fmt.Errorf("field %q: %w", field.Name, err)
		}
		field.validate = bound
		cfg.Fields[i] = field
		cfg.byName[field.Name] = i
	}
	return cfg, nil
}

// Field looks up a custom field by name.
func (c *CollectionConfig) Field(name string) (*FieldConfig, bool) {
	if c.byName == nil {
		return nil, false
	}
	idx, ok := c.byName[name]
	if !ok {
		return nil, false
	}
	return &c.Fields[idx], true
}

// ItemURL renders the collection's URL pattern for an item, resolving each
// {token} against the item's effective (draft-aware) field values.
func (c *CollectionConfig) ItemURL(it Item) string {
	pattern := c.URLPattern
	if pattern == "" {
		return ""
	}
	var b strings.Builder
	for {
		open := strings.Index(pattern, "{")
		if open < 0 {
			b.WriteString(pattern)
			break
		}
		close := strings.Index(pattern[open:], "}")
		if close < 0 {
			b.WriteString(pattern)
			break
		}
		b.WriteString(pattern[:open])
		token := pattern[open+1 : open+close]
		if value := ResolveValue(it, token); value != nil {
			b.WriteString(fmt.Sprintf("%v", value))
		}
		pattern = pattern[open+close+1:]
	}
	return b.String()
}

func bindValidator(field FieldConfig) (func(any) error, error) {
	switch field.Type {
	case FieldText, FieldMarkdown:
		return expectString, nil
	case FieldImage, FieldReference:
		return expectString, nil
	case FieldNumber:
		return func(v any) error {
			if _, ok := asNumber(v); !ok {
				return fmt.Errorf("expected a number, got %T", v)
			}
			return nil
		}, nil
	case FieldBoolean:
		return func(v any) error {
			if _, ok := v.(bool); !ok {
				return fmt.Errorf("expected a boolean, got %T", v)
			}
			return nil
		}, nil
	case FieldDate:
		return func(v any) error {
			switch d := v.(type) {
			case time.Time:
				return nil
			case string:
				if _, err := time.Parse(time.RFC3339, d); err != nil {
					if _, err := time.Parse("2006-01-02", d); err != nil {
						return fmt.Errorf("expected an RFC3339 or YYYY-MM-DD date")
					}
				}
				return nil
			default:
				return fmt.Errorf("expected a date string, got %T", v)
			}
		}, nil
	case FieldSelect:
		if len(field.Options) == 0 {
			return nil, fmt.Errorf("select field needs options")
		}
		options := field.Options
		return func(v any) error {
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("expected a string choice, got %T", v)
			}
			if !containsString(options, s) {
				return fmt.Errorf("%q is not an allowed choice", s)
			}
			return nil
		}, nil
	case FieldMultiSelect:
		if len(field.Options) == 0 {
			return nil, fmt.Errorf("multiselect field needs options")
		}
		options := field.Options
		return func(v any) error {
			values, ok := asStringSlice(v)
			if !ok {
				return fmt.Errorf("expected a list of choices, got %T", v)
			}
			for _, s := range values {
				if !containsString(options, s) {
					return fmt.Errorf("%q is not an allowed choice", s)
				}
			}
			return nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown field type %q", field.Type)
	}
}

func expectString(v any) error {
	if _, ok := v.(string); !ok {
		return fmt.Errorf("expected a string, got %T", v)
	}
	return nil
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func asStringSlice(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	default:
		return nil, false
	}
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
