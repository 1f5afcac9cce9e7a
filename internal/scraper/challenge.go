package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultChallengeMarkers are phrases shown by common bot-check interstitials.
var DefaultChallengeMarkers = []string{
	"Checking your browser",
	"Just a moment...",
	"unusual traffic",
	"Verify you are human",
	"captcha",
	"security check",
}

// ChallengeDetector decides whether page content is an anti-bot challenge.
type ChallengeDetector interface {
	IsChallenge(content string) bool
}

// MarkerDetector matches markers case-insensitively against the page title
// and visible body text. Script and style contents are ignored so that
// inline bundles mentioning "captcha" do not trip it.
type MarkerDetector struct {
	markers []string
}

func NewMarkerDetector(markers []string) *MarkerDetector {
	if len(markers) == 0 {
		markers = DefaultChallengeMarkers
	}
	return &MarkerDetector{markers: markers}
}

func (d *MarkerDetector) IsChallenge(content string) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}

	visible := content
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(content)); err == nil {
		doc.Find("script, style, noscript").Remove()
		visible = doc.Find("title").Text() + "\n" + doc.Find("body").Text()
	}

	visible = strings.ToLower(visible)
	for _, marker := range d.markers {
		if strings.Contains(visible, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}
