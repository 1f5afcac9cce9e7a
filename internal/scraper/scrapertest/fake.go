// Package scrapertest provides in-memory pages and elements for exercising
// sessions without a browser.
package scrapertest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/adlibrary-harvester/internal/models"
	"github.com/maltedev/adlibrary-harvester/internal/scraper"
)

const ChallengeHTML = `<html><head><title>Just a moment...</title></head><body><h1>Checking your browser before accessing</h1></body></html>`

const pageHTML = `<html><head><title>Ad Library</title></head><body><div id="content">results</div></body></html>`

var ErrClosed = errors.New("page closed")

// Page is a scripted scraper.Page. Rounds[i] is what FindAll returns on its
// i-th call; the last entry repeats once the script runs out.
type Page struct {
	Rounds [][]scraper.Element

	NavigateErr error
	// NavigateDelay blocks Navigate, unblocking early when Release is closed.
	NavigateDelay time.Duration
	Release       chan struct{}

	// ChallengeFromRound switches Content to a challenge page once FindAll
	// has been called that many times. Negative disables it.
	ChallengeFromRound int
	// TargetGoneFromRound makes WaitFor on the card selector fail once
	// FindAll has been called that many times. Negative disables it.
	TargetGoneFromRound int
	// HangFromRound makes WaitFor on the card selector block until its
	// timeout or ctx is done once FindAll has been called that many times.
	// Negative disables it.
	HangFromRound int
	NotReady      bool
	// HTML replaces the default non-challenge page markup.
	HTML string

	mu         sync.Mutex
	findCalls  int
	scripts    []string
	mouseMoves int
	shots      int
	closed     bool
	navigated  string
}

func NewPage(rounds ...[]scraper.Element) *Page {
	return &Page{
		Rounds:              rounds,
		ChallengeFromRound:  -1,
		TargetGoneFromRound: -1,
		HangFromRound:       -1,
	}
}

// NewChallengePage returns a page that shows a challenge from the start.
func NewChallengePage() *Page {
	p := NewPage()
	p.ChallengeFromRound = 0
	return p
}

func (p *Page) Navigate(url string, timeout time.Duration) error {
	p.mu.Lock()
	p.navigated = url
	delay, release := p.NavigateDelay, p.Release
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-release:
		}
	}
	return p.NavigateErr
}

func (p *Page) WaitFor(ctx context.Context, cond scraper.Condition, timeout time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}

	p.mu.Lock()
	if cond.Selector == "body" {
		defer p.mu.Unlock()
		return !p.NotReady
	}
	if cond.Content != nil && cond.Content(p.contentLocked()) {
		p.mu.Unlock()
		return true
	}
	hang := p.HangFromRound >= 0 && p.findCalls >= p.HangFromRound
	gone := p.TargetGoneFromRound >= 0 && p.findCalls >= p.TargetGoneFromRound
	hasCards := len(p.Rounds) > 0
	p.mu.Unlock()

	if hang {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		return false
	}
	return !gone && hasCards
}

func (p *Page) FindAll(selector string) ([]scraper.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrClosed
	}
	if len(p.Rounds) == 0 {
		p.findCalls++
		return nil, nil
	}
	idx := min(p.findCalls, len(p.Rounds)-1)
	p.findCalls++
	return p.Rounds[idx], nil
}

func (p *Page) RunScript(script string) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.scripts = append(p.scripts, script)
	if strings.Contains(script, "scrollHeight") {
		return float64(5000), nil
	}
	return nil, nil
}

func (p *Page) Content() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.contentLocked(), nil
}

func (p *Page) contentLocked() string {
	if p.ChallengeFromRound >= 0 && p.findCalls >= p.ChallengeFromRound {
		return ChallengeHTML
	}
	if p.HTML != "" {
		return p.HTML
	}
	return pageHTML
}

func (p *Page) Screenshot() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shots++
	return []byte("\x89PNG fake"), nil
}

func (p *Page) MoveMouse(x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mouseMoves++
	return nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) Scripts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.scripts...)
}

func (p *Page) MouseMoves() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mouseMoves
}

func (p *Page) Screenshots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shots
}

func (p *Page) NavigatedURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.navigated
}

// Element is a static node. Children are keyed by selector.
type Element struct {
	TextValue string
	TextErr   error
	Attrs     map[string]string
	Children  map[string][]*Element
}

func (e *Element) Text() (string, error) {
	return e.TextValue, e.TextErr
}

func (e *Element) Attribute(name string) (string, bool) {
	v, ok := e.Attrs[name]
	return v, ok
}

func (e *Element) Find(selector string) (scraper.Element, bool) {
	children := e.Children[selector]
	if len(children) == 0 {
		return nil, false
	}
	return children[0], true
}

func (e *Element) FindAll(selector string) []scraper.Element {
	children := e.Children[selector]
	out := make([]scraper.Element, len(children))
	for i, c := range children {
		out[i] = c
	}
	return out
}

// NewCard builds an ad card matching sel. Empty field values are left out
// so the extractor sees them as missing.
func NewCard(sel scraper.Selectors, fields map[string]string, media ...string) *Element {
	card := &Element{Children: make(map[string][]*Element)}

	for name, selector := range map[string]string{
		models.FieldAdvertiser:  sel.Advertiser,
		models.FieldText:        sel.Text,
		models.FieldCTAText:     sel.CTA,
		models.FieldSponsorInfo: sel.Sponsor,
	} {
		if v, ok := fields[name]; ok && v != "" {
			card.Children[selector] = []*Element{{TextValue: v}}
		}
	}

	for _, src := range media {
		card.Children[sel.Media] = append(card.Children[sel.Media], &Element{
			Attrs: map[string]string{sel.MediaAttribute: src},
		})
	}

	return card
}

// Ad is a shorthand for a card with advertiser and body text.
func Ad(advertiser, text string) *Element {
	return NewCard(scraper.DefaultSelectors(), map[string]string{
		models.FieldAdvertiser:  advertiser,
		models.FieldText:        text,
		models.FieldSponsorInfo: "Sponsored",
	}, "https://cdn.example/"+strings.ReplaceAll(strings.ToLower(advertiser), " ", "-")+".jpg")
}

// Elements converts cards into a FindAll round.
func Elements(cards ...*Element) []scraper.Element {
	out := make([]scraper.Element, len(cards))
	for i, c := range cards {
		out[i] = c
	}
	return out
}
