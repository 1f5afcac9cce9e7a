package dedup

import (
	"strings"
	"testing"

	"github.com/maltedev/adlibrary-harvester/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Trim", "  hello  ", "hello"},
		{"Collapse", "hello \n\t world", "hello world"},
		{"Lowercase", "Hello World", "hello world"},
		{"Empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestPrefixFingerprint(t *testing.T) {
	fp := PrefixFingerprint(10)

	t.Run("formatting differences collapse", func(t *testing.T) {
		assert.Equal(t, fp("Buy  now\nand save"), fp("buy now and save"))
	})

	t.Run("shared prefix conflates long records", func(t *testing.T) {
		a := "0123456789 first ending"
		b := "0123456789 second ending"
		assert.Equal(t, fp(a), fp(b))
		assert.NotEqual(t, ContentHash(a), ContentHash(b))
	})

	t.Run("different text differs", func(t *testing.T) {
		assert.NotEqual(t, fp("alpha"), fp("beta"))
	})

	t.Run("multibyte runes are not split", func(t *testing.T) {
		text := strings.Repeat("ü", 20)
		assert.Equal(t, fp(text), fp(strings.Repeat("ü", 10)))
	})

	t.Run("non-positive length uses default", func(t *testing.T) {
		long := strings.Repeat("a", DefaultPrefixLength)
		assert.Equal(t, PrefixFingerprint(0)(long+"x"), PrefixFingerprint(0)(long+"y"))
	})
}

func TestRecordText(t *testing.T) {
	t.Run("uses body text", func(t *testing.T) {
		fields := map[string]string{models.FieldText: " body ", models.FieldAdvertiser: "Acme"}
		assert.Equal(t, "body", RecordText(fields, nil))
	})

	t.Run("falls back to other fields", func(t *testing.T) {
		fields := map[string]string{models.FieldAdvertiser: "Acme", models.FieldCTAText: "Shop"}
		text := RecordText(fields, []string{"https://cdn/x.jpg"})
		assert.Contains(t, text, "Acme")
		assert.Contains(t, text, "Shop")
		assert.Contains(t, text, "https://cdn/x.jpg")
	})
}

func TestDeduplicator_Accept(t *testing.T) {
	d := New()

	assert.True(t, d.Accept("a"))
	assert.False(t, d.Accept("a"))
	assert.True(t, d.Accept("b"))
	assert.Equal(t, 2, d.Len())
}
