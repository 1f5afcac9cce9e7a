package scraper

import (
	"fmt"
	"strings"

	"github.com/maltedev/adlibrary-harvester/internal/models"
)

// Selectors locate ad cards and their fields. Field selectors are relative
// to the card.
type Selectors struct {
	Card           string `json:"card"`
	Advertiser     string `json:"advertiser"`
	Text           string `json:"text"`
	CTA            string `json:"cta"`
	Sponsor        string `json:"sponsor"`
	Media          string `json:"media"`
	MediaAttribute string `json:"media_attribute"`
}

func DefaultSelectors() Selectors {
	return Selectors{
		Card:           `div[class*="_7jyr"]`,
		Advertiser:     `div[class*="_7jwu"]`,
		Text:           `div[class*="_7jyu"]`,
		CTA:            `[role="button"]`,
		Sponsor:        `div[class*="_7jys"]`,
		Media:          "img",
		MediaAttribute: "src",
	}
}

// Extractor reads one card into a field map. A missing field is an empty
// string; only a failing read of an existing node is an error.
type Extractor struct {
	selectors Selectors
}

func NewExtractor(selectors Selectors) *Extractor {
	if selectors.MediaAttribute == "" {
		selectors.MediaAttribute = "src"
	}
	return &Extractor{selectors: selectors}
}

func (e *Extractor) Selectors() Selectors {
	return e.selectors
}

func (e *Extractor) Extract(card Element) (map[string]string, []string, error) {
	fields := make(map[string]string, 4)

	for name, selector := range map[string]string{
		models.FieldAdvertiser:  e.selectors.Advertiser,
		models.FieldText:        e.selectors.Text,
		models.FieldCTAText:     e.selectors.CTA,
		models.FieldSponsorInfo: e.selectors.Sponsor,
	} {
		value, err := textOf(card, selector)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrElementExtraction, name, err)
		}
		fields[name] = value
	}

	media := e.mediaURLs(card)

	empty := len(media) == 0
	for _, v := range fields {
		if v != "" {
			empty = false
			break
		}
	}
	if empty {
		return nil, nil, fmt.Errorf("%w: card has no content", ErrElementExtraction)
	}

	return fields, media, nil
}

func (e *Extractor) mediaURLs(card Element) []string {
	if e.selectors.Media == "" {
		return nil
	}

	var urls []string
	seen := make(map[string]struct{})
	for _, node := range card.FindAll(e.selectors.Media) {
		src, ok := node.Attribute(e.selectors.MediaAttribute)
		src = strings.TrimSpace(src)
		if !ok || src == "" {
			continue
		}
		if _, dup := seen[src]; dup {
			continue
		}
		seen[src] = struct{}{}
		urls = append(urls, src)
	}
	return urls
}

func textOf(card Element, selector string) (string, error) {
	if selector == "" {
		return "", nil
	}
	node, ok := card.Find(selector)
	if !ok {
		return "", nil
	}
	text, err := node.Text()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
