package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/adlibrary-harvester/internal/scraper"
	"github.com/playwright-community/playwright-go"
)

const pollInterval = 250 * time.Millisecond

// textTimeout bounds reads from elements that may have been detached by a
// re-render.
const textTimeout = 2 * time.Second

// Page adapts a playwright page to scraper.Page.
type Page struct {
	page    playwright.Page
	context playwright.BrowserContext
	browser playwright.Browser
	logger  *slog.Logger
}

var (
	_ scraper.Page    = (*Page)(nil)
	_ scraper.Pointer = (*Page)(nil)
)

func (p *Page) Navigate(url string, timeout time.Duration) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return fmt.Errorf("goto %s: %w", url, err)
	}
	return nil
}

func (p *Page) WaitFor(ctx context.Context, cond scraper.Condition, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if p.satisfied(cond) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
		}
	}
}

func (p *Page) satisfied(cond scraper.Condition) bool {
	if cond.Selector != "" {
		if n, err := p.page.Locator(cond.Selector).Count(); err == nil && n > 0 {
			return true
		}
	}
	if cond.Content == nil {
		return false
	}
	content, err := p.page.Content()
	if err != nil {
		return false
	}
	return cond.Content(content)
}

func (p *Page) FindAll(selector string) ([]scraper.Element, error) {
	locators, err := p.page.Locator(selector).All()
	if err != nil {
		return nil, fmt.Errorf("locate %q: %w", selector, err)
	}
	return wrap(locators), nil
}

func (p *Page) RunScript(script string) (any, error) {
	return p.page.Evaluate(script)
}

func (p *Page) Content() (string, error) {
	return p.page.Content()
}

func (p *Page) Screenshot() ([]byte, error) {
	return p.page.Screenshot(playwright.PageScreenshotOptions{FullPage: playwright.Bool(false)})
}

func (p *Page) MoveMouse(x, y float64) error {
	return p.page.Mouse().Move(x, y, playwright.MouseMoveOptions{Steps: playwright.Int(5)})
}

// Close releases the page, its context and the browser process.
func (p *Page) Close() error {
	var errs []error

	if err := p.page.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close page: %w", err))
	}
	if err := p.context.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close context: %w", err))
	}
	if err := p.browser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		p.logger.Warn("errors during close", "error", err)
		return err
	}
	return nil
}

type element struct {
	loc playwright.Locator
}

func wrap(locators []playwright.Locator) []scraper.Element {
	out := make([]scraper.Element, 0, len(locators))
	for _, l := range locators {
		out = append(out, &element{loc: l})
	}
	return out
}

func (e *element) Text() (string, error) {
	return e.loc.InnerText(playwright.LocatorInnerTextOptions{
		Timeout: playwright.Float(float64(textTimeout.Milliseconds())),
	})
}

func (e *element) Attribute(name string) (string, bool) {
	v, err := e.loc.GetAttribute(name, playwright.LocatorGetAttributeOptions{
		Timeout: playwright.Float(float64(textTimeout.Milliseconds())),
	})
	if err != nil || v == "" {
		return "", false
	}
	return v, true
}

func (e *element) Find(selector string) (scraper.Element, bool) {
	first := e.loc.Locator(selector).First()
	if n, err := first.Count(); err != nil || n == 0 {
		return nil, false
	}
	return &element{loc: first}, true
}

func (e *element) FindAll(selector string) []scraper.Element {
	locators, err := e.loc.Locator(selector).All()
	if err != nil {
		return nil
	}
	return wrap(locators)
}
