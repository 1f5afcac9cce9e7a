package scraper

import (
	"fmt"
	"net/url"
	"regexp"
)

// DefaultTargetURLTemplate is the public ad library search page.
const DefaultTargetURLTemplate = "https://www.facebook.com/ads/library/?active_status=active&ad_type=all&country={country}&q={q}"

var placeholderRegex = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// BuildTargetURL substitutes {key} placeholders with query-escaped filter
// values. Unknown keys become empty strings.
func BuildTargetURL(template string, filters map[string]string) (string, error) {
	if template == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTemplate)
	}

	rendered := placeholderRegex.ReplaceAllStringFunc(template, func(match string) string {
		key := placeholderRegex.FindStringSubmatch(match)[1]
		return url.QueryEscape(filters[key])
	})

	parsed, err := url.Parse(rendered)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("%w: %q is not absolute", ErrInvalidTemplate, rendered)
	}

	return rendered, nil
}
