package textutil

import (
	"reflect"
	"testing"
)

func TestCompactMetadata(t *testing.T) {
	t.Run("trims and drops blank entries", func(t *testing.T) {
		input := map[string]string{
			" orderId ":   " 01HX ",
			"orderNumber": "ORD-20250301-001",
			"userId":      " ",
			" ":           "ignored",
		}
		expected := map[string]string{
			"orderId":     "01HX",
			"orderNumber": "ORD-20250301-001",
		}
		if actual := CompactMetadata(input); !reflect.DeepEqual(actual, expected) {
			t.Fatalf("expected %#v got %#v", expected, actual)
		}
	})

	t.Run("returns nil when nothing remains", func(t *testing.T) {
		if CompactMetadata(nil) != nil {
			t.Fatalf("expected nil for nil input")
		}
		if CompactMetadata(map[string]string{"a": ""}) != nil {
			t.Fatalf("expected nil when every value is blank")
		}
	})
}
