package scraper

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNavigation        = errors.New("navigation failed")
	ErrExtractionTimeout = errors.New("timed out waiting for target elements")
	ErrElementExtraction = errors.New("element extraction failed")
	ErrInvalidTemplate   = errors.New("invalid target URL template")
)

// Condition is satisfied when Selector matches at least one element or
// Content accepts the page markup.
type Condition struct {
	Selector string
	Content  func(markup string) bool
}

// Page is the browser session a scrape runs against. Implementations wrap a
// real browser tab; tests use in-memory fakes.
type Page interface {
	Navigate(url string, timeout time.Duration) error
	// WaitFor reports whether cond was met before timeout. It returns
	// false as soon as ctx is done.
	WaitFor(ctx context.Context, cond Condition, timeout time.Duration) bool
	FindAll(selector string) ([]Element, error)
	RunScript(script string) (any, error)
	Content() (string, error)
	Screenshot() ([]byte, error)
	Close() error
}

// Pointer is implemented by pages that can emit synthetic mouse movement.
type Pointer interface {
	MoveMouse(x, y float64) error
}

// Element is a located node inside a Page. Lookups return ok=false instead
// of an error when nothing matches.
type Element interface {
	Text() (string, error)
	Attribute(name string) (string, bool)
	Find(selector string) (Element, bool)
	FindAll(selector string) []Element
}
