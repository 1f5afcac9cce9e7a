package scraper

import (
	"context"
	"fmt"
)

const documentHeightScript = `document.body ? document.body.scrollHeight : 0`

// warmUp performs a short burst of pointer movement and a small forward
// scroll. Failures are logged and otherwise ignored.
func (s *Session) warmUp(ctx context.Context) {
	if err := s.pacer.Pause(ctx); err != nil {
		return
	}

	if pointer, ok := s.page.(Pointer); ok {
		for i := 0; i < 3; i++ {
			if err := s.pointer.Wait(ctx); err != nil {
				return
			}
			x := float64(100 + i*200 + s.rand.Intn(80))
			y := float64(100 + i*150 + s.rand.Intn(60))
			if err := pointer.MoveMouse(x, y); err != nil {
				s.logger.Debug("pointer move failed", "error", err)
				break
			}
		}
	}

	distance := s.warmupDistance()
	if _, err := s.page.RunScript(fmt.Sprintf("window.scrollBy(0, %d)", distance)); err != nil {
		s.logger.Debug("warm-up scroll failed", "error", err)
	}

	_ = s.pacer.Pause(ctx)
}

// warmupDistance picks 300-800px in headless mode, bounded by the document
// height, and 200-500px otherwise.
func (s *Session) warmupDistance() int {
	if !s.jc.Config.Headless {
		return 200 + s.rand.Intn(301)
	}

	upper := 800
	if raw, err := s.page.RunScript(documentHeightScript); err == nil {
		if height, ok := toInt(raw); ok && height > 300 && height < upper {
			upper = height
		}
	}
	return 300 + s.rand.Intn(upper-300+1)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
