package content

import (
	"strings"
	"testing"
	"time"
)

func TestFieldValidators(t *testing.T) {
	cfg, err := NewCollectionConfig("all", "All types", "", []FieldConfig{
		{Name: "headline", Type: FieldText},
		{Name: "body", Type: FieldMarkdown},
		{Name: "count", Type: FieldNumber},
		{Name: "live", Type: FieldBoolean},
		{Name: "when", Type: FieldDate},
		{Name: "tier", Type: FieldSelect, Options: []string{"free", "pro"}},
		{Name: "tags", Type: FieldMultiSelect, Options: []string{"go", "news"}},
		{Name: "author", Type: FieldReference, ReferenceTo: "authors"},
		{Name: "cover", Type: FieldImage},
	})
	if err != nil {
		t.Fatalf("NewCollectionConfig: %v", err)
	}

	cases := []struct {
		field string
		value any
		ok    bool
	}{
		{"headline", "hi", true},
		{"headline", 3, false},
		{"body", "# Title", true},
		{"count", 3, true},
		{"count", 3.5, true},
		{"count", "3", false},
		{"live", true, true},
		{"live", "true", false},
		{"when", "2026-08-27", true},
		{"when", "2026-08-27T10:00:00Z", true},
		{"when", time.Now(), true},
		{"when", "yesterday", false},
		{"tier", "pro", true},
		{"tier", "enterprise", false},
		{"tags", []string{"go"}, true},
		{"tags", []any{"go", "news"}, true},
		{"tags", []string{"sports"}, false},
		{"tags", "go", false},
		{"author", "item_abc", true},
		{"cover", "/media/x.png", true},
		{"cover", 1, false},
	}
	for _, tc := range cases {
		fc, ok := cfg.Field(tc.field)
		if !ok {
			t.Fatalf("field %q not found", tc.field)
		}
		err := fc.Validate(tc.value)
		if tc.ok && err != nil {
			t.Errorf("%s = %v: unexpected error %v", tc.field, tc.value, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s = %v: expected an error", tc.field, tc.value)
		}
	}
}

func TestValidateNilAndRequired(t *testing.T) {
	optional := FieldConfig{Name: "a", Type: FieldText}
	required := FieldConfig{Name: "b", Type: FieldText, Required: true}
	cfg, err := NewCollectionConfig("c", "C", "", []FieldConfig{optional, required})
	if err != nil {
		t.Fatalf("NewCollectionConfig: %v", err)
	}

	a, _ := cfg.Field("a")
	if err := a.Validate(nil); err != nil {
		t.Errorf("nil on optional field: %v", err)
	}
	b, _ := cfg.Field("b")
	if err := b.Validate(nil); err == nil {
		t.Error("nil on required field should fail")
	}
}

func TestNewCollectionConfigRejectsBadSchemas(t *testing.T) {
	cases := []struct {
		name   string
		fields []FieldConfig
		want   string
	}{
		{"empty name", []FieldConfig{{Name: " ", Type: FieldText}}, "name is required"},
		{"reserved name", []FieldConfig{{Name: "title", Type: FieldText}}, "reserved"},
		{"duplicate", []FieldConfig{{Name: "x", Type: FieldText}, {Name: "x", Type: FieldNumber}}, "duplicate"},
		{"select without options", []FieldConfig{{Name: "x", Type: FieldSelect}}, "needs options"},
		{"multiselect without options", []FieldConfig{{Name: "x", Type: FieldMultiSelect}}, "needs options"},
		{"unknown type", []FieldConfig{{Name: "x", Type: "geo"}}, "unknown field type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCollectionConfig("c", "C", "", tc.fields)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestFieldLookup(t *testing.T) {
	cfg := testConfig()
	if _, ok := cfg.Field("color"); !ok {
		t.Error("color should be found")
	}
	if _, ok := cfg.Field("title"); ok {
		t.Error("reserved fields are not custom fields")
	}
	var empty CollectionConfig
	if _, ok := empty.Field("anything"); ok {
		t.Error("zero-value config has no fields")
	}
}

func TestItemURLMultipleTokens(t *testing.T) {
	cfg, err := NewCollectionConfig("docs", "Docs", "/docs/{category}/{slug}", []FieldConfig{
		{Name: "category", Type: FieldSelect, Options: []string{"news", "guide"}},
	})
	if err != nil {
		t.Fatalf("NewCollectionConfig: %v", err)
	}
	it := publishedItem("item_1")
	it.Data["category"] = "guide"
	if got := cfg.ItemURL(it); got != "/docs/guide/hello" {
		t.Errorf("ItemURL = %q", got)
	}

	var noPattern CollectionConfig
	if got := noPattern.ItemURL(it); got != "" {
		t.Errorf("empty pattern ItemURL = %q", got)
	}
}
