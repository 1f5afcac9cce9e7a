package scraper

import (
	"testing"

	"github.com/maltedev/adlibrary-harvester/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubElement struct {
	text     string
	attrs    map[string]string
	children map[string][]*stubElement
}

func (e *stubElement) Text() (string, error) { return e.text, nil }

func (e *stubElement) Attribute(name string) (string, bool) {
	v, ok := e.attrs[name]
	return v, ok
}

func (e *stubElement) Find(selector string) (Element, bool) {
	if c := e.children[selector]; len(c) > 0 {
		return c[0], true
	}
	return nil, false
}

func (e *stubElement) FindAll(selector string) []Element {
	var out []Element
	for _, c := range e.children[selector] {
		out = append(out, c)
	}
	return out
}

func TestBuildTargetURL(t *testing.T) {
	tests := []struct {
		name     string
		template string
		filters  map[string]string
		want     string
		wantErr  bool
	}{
		{
			name:     "escapes values",
			template: DefaultTargetURLTemplate,
			filters:  map[string]string{"q": "shoes & socks", "country": "US"},
			want:     "https://www.facebook.com/ads/library/?active_status=active&ad_type=all&country=US&q=shoes+%26+socks",
		},
		{
			name:     "missing filters render empty",
			template: "https://example.com/search?q={q}&c={country}",
			filters:  nil,
			want:     "https://example.com/search?q=&c=",
		},
		{
			name:     "relative template rejected",
			template: "/search?q={q}",
			wantErr:  true,
		},
		{
			name:     "empty template rejected",
			template: "",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildTargetURL(tt.template, tt.filters)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTemplate)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMarkerDetector(t *testing.T) {
	d := NewMarkerDetector(nil)

	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"cloudflare interstitial", `<html><head><title>Just a moment...</title></head><body>Checking your browser</body></html>`, true},
		{"case insensitive", `<html><body><p>Our systems have detected UNUSUAL TRAFFIC from your network</p></body></html>`, true},
		{"normal results", `<html><head><title>Ad Library</title></head><body><div>42 results</div></body></html>`, false},
		{"marker only inside script", `<html><body><script>var captchaEnabled = false;</script><div>results</div></body></html>`, false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.IsChallenge(tt.content))
		})
	}
}

func TestExtractor_Extract(t *testing.T) {
	sel := DefaultSelectors()
	card := &stubElement{children: map[string][]*stubElement{
		sel.Advertiser: {{text: "  Acme Corp "}},
		sel.Text:       {{text: "Buy one get one free"}},
		sel.Media: {
			{attrs: map[string]string{"src": "https://cdn.example/a.jpg"}},
			{attrs: map[string]string{"src": ""}},
			{attrs: map[string]string{"alt": "no src"}},
			{attrs: map[string]string{"src": "https://cdn.example/a.jpg"}},
			{attrs: map[string]string{"src": "https://cdn.example/b.jpg"}},
		},
	}}

	fields, media, err := NewExtractor(sel).Extract(card)
	require.NoError(t, err)

	assert.Equal(t, "Acme Corp", fields[models.FieldAdvertiser])
	assert.Equal(t, "Buy one get one free", fields[models.FieldText])
	assert.Equal(t, "", fields[models.FieldCTAText])
	assert.Equal(t, "", fields[models.FieldSponsorInfo])
	assert.Equal(t, []string{"https://cdn.example/a.jpg", "https://cdn.example/b.jpg"}, media)
}

func TestExtractor_EmptyCard(t *testing.T) {
	_, _, err := NewExtractor(DefaultSelectors()).Extract(&stubElement{})
	assert.ErrorIs(t, err, ErrElementExtraction)
}

func TestToInt(t *testing.T) {
	for _, v := range []any{1200, int64(1200), float64(1200)} {
		n, ok := toInt(v)
		assert.True(t, ok)
		assert.Equal(t, 1200, n)
	}
	_, ok := toInt("1200")
	assert.False(t, ok)
}
