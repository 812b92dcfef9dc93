package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
)

// interact runs the reveal pass: scroll, hover menus, synthetic hover/focus
// events, then toggle clicks. A failing step is logged and ends the pass;
// whatever it revealed so far stays in the DOM.
func (r *ChromedpRenderer) interact(ctx context.Context, logger *slog.Logger) {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"scroll", r.scroll},
		{"hover", r.hoverMenus},
		{"synthetic_events", r.syntheticEvents},
		{"click_toggles", r.clickToggles},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			logger.Debug("interaction step stopped", "step", step.name, "error", err)
			return
		}
	}
}

// scroll moves down one viewport fraction at a time, re-measuring the
// document height after each step so lazily appended content is reached.
func (r *ChromedpRenderer) scroll(ctx context.Context) error {
	expr := fmt.Sprintf(`(() => {
  const step = Math.max(1, Math.floor(window.innerHeight * %f));
  window.scrollBy(0, step);
  const h = Math.max(document.body ? document.body.scrollHeight : 0, document.documentElement.scrollHeight);
  return [window.scrollY + window.innerHeight, h];
})()`, r.opts.ScrollStepRatio)

	for i := 0; i < r.opts.MaxScrollSteps; i++ {
		var pos []float64
		if err := chromedp.Run(ctx, chromedp.Evaluate(expr, &pos)); err != nil {
			return err
		}
		if r.opts.ScrollPause > 0 {
			if err := chromedp.Run(ctx, chromedp.Sleep(r.opts.ScrollPause)); err != nil {
				return err
			}
		}
		if len(pos) == 2 && pos[0] >= pos[1] {
			break
		}
	}
	var top bool
	return chromedp.Run(ctx, chromedp.Evaluate(`(window.scrollTo(0, 0), true)`, &top))
}

// hoverMenus moves the real mouse over the first match of each menu selector
// that has a non-zero size.
func (r *ChromedpRenderer) hoverMenus(ctx context.Context) error {
	for _, sel := range r.opts.MenuSelectors {
		point, err := elementCenter(ctx, sel, firstSized)
		if err != nil {
			return err
		}
		if point == nil {
			continue
		}
		if err := chromedp.Run(ctx,
			input.DispatchMouseEvent(input.MouseMoved, point[0], point[1]),
		); err != nil {
			return err
		}
		if r.opts.HoverPause > 0 {
			if err := chromedp.Run(ctx, chromedp.Sleep(r.opts.HoverPause)); err != nil {
				return err
			}
		}
	}
	return nil
}

// syntheticEvents fires mouseenter/mouseover/focus on a bounded sample of
// interactive elements without moving the mouse.
func (r *ChromedpRenderer) syntheticEvents(ctx context.Context) error {
	if r.opts.InteractiveSample <= 0 {
		return nil
	}
	sel, _ := json.Marshal(interactiveSelector)
	expr := fmt.Sprintf(`(() => {
  const els = Array.from(document.querySelectorAll(%s)).slice(0, %d);
  for (const el of els) {
    try {
      for (const type of ['mouseenter', 'mouseover']) {
        el.dispatchEvent(new MouseEvent(type, {bubbles: true, cancelable: true, view: window}));
      }
      if (typeof el.focus === 'function') el.focus();
    } catch (e) {}
  }
  return els.length;
})()`, sel, r.opts.InteractiveSample)
	var touched int
	return chromedp.Run(ctx, chromedp.Evaluate(expr, &touched))
}

// clickToggles clicks up to ClickLimit toggle-like elements. Individual click
// failures are ignored.
func (r *ChromedpRenderer) clickToggles(ctx context.Context) error {
	for i := 0; i < r.opts.ClickLimit; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		point, err := elementCenter(ctx, toggleSelector, i)
		if err != nil {
			return err
		}
		if point == nil {
			if i >= countMatches(ctx, toggleSelector) {
				return nil
			}
			continue
		}
		clickCtx, cancel := context.WithTimeout(ctx, r.opts.ClickTimeout)
		_ = chromedp.Run(clickCtx,
			input.DispatchMouseEvent(input.MouseMoved, point[0], point[1]),
			input.DispatchMouseEvent(input.MousePressed, point[0], point[1]).WithButton(input.Left).WithClickCount(1),
			input.DispatchMouseEvent(input.MouseReleased, point[0], point[1]).WithButton(input.Left).WithClickCount(1),
		)
		cancel()
		if r.opts.ClickPause > 0 {
			if err := chromedp.Run(ctx, chromedp.Sleep(r.opts.ClickPause)); err != nil {
				return err
			}
		}
	}
	return nil
}

// firstSized makes elementCenter pick the first match with a non-zero size.
const firstSized = -1

// elementCenter scrolls the index-th match of sel into view and returns its
// viewport center, or nil when there is no such element or it has no size.
func elementCenter(ctx context.Context, sel string, index int) ([]float64, error) {
	var point []float64
	if err := chromedp.Run(ctx, chromedp.Evaluate(centerScript(sel, index), &point)); err != nil {
		return nil, err
	}
	if len(point) != 2 {
		return nil, nil
	}
	return point, nil
}

func centerScript(sel string, index int) string {
	quoted, _ := json.Marshal(sel)
	return fmt.Sprintf(`(() => {
  let els;
  try { els = Array.from(document.querySelectorAll(%s)); } catch (e) { return []; }
  const idx = %d;
  const el = idx >= 0 ? els[idx] : els.find(e => {
    const b = e.getBoundingClientRect();
    return b.width > 0 && b.height > 0;
  });
  if (!el) return [];
  try { el.scrollIntoView({block: 'center', inline: 'center'}); } catch (e) {}
  const r = el.getBoundingClientRect();
  if (!r.width || !r.height) return [];
  return [r.left + r.width / 2, r.top + r.height / 2];
})()`, quoted, index)
}

func countMatches(ctx context.Context, sel string) int {
	quoted, _ := json.Marshal(sel)
	var n int
	if err := chromedp.Run(ctx, chromedp.Evaluate(fmt.Sprintf(`document.querySelectorAll(%s).length`, quoted), &n)); err != nil {
		return 0
	}
	return n
}
