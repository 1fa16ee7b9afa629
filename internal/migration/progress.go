package migration

import (
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/time/rate"
)

// progressInterval is the minimum spacing between progress lines.
const progressInterval = 500 * time.Millisecond

// Progress reports throttled completion and ETA for long migrations.
type Progress struct {
	label     string
	total     uint64
	processed uint64
	start     time.Time
	limiter   *rate.Limiter
	nowFn     func() time.Time
	emit      func(string)
}

// ProgressOption customises a Progress.
type ProgressOption func(*Progress)

// WithProgressClock overrides the time source.
func WithProgressClock(now func() time.Time) ProgressOption {
	return func(p *Progress) { p.nowFn = now }
}

// WithProgressSink redirects emitted lines.
func WithProgressSink(emit func(string)) ProgressOption {
	return func(p *Progress) { p.emit = emit }
}

// NewProgress starts a reporter for total items.
func NewProgress(total uint64, label string, opts ...ProgressOption) *Progress {
	p := &Progress{
		label:   label,
		total:   total,
		nowFn:   time.Now,
		emit:    func(line string) { logx.Info(line) },
		limiter: rate.NewLimiter(rate.Every(progressInterval), 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.start = p.nowFn()
	return p
}

// Update advances the processed count by delta.
func (p *Progress) Update(delta uint64) {
	p.SetProcessed(p.processed + delta)
}

// SetProcessed sets the processed count and emits a line unless one was
// emitted within the last 500ms.
func (p *Progress) SetProcessed(n uint64) {
	p.processed = n
	now := p.nowFn()
	if p.limiter.AllowN(now, 1) {
		p.emit(p.line(now))
	}
}

// Processed returns the current count.
func (p *Progress) Processed() uint64 {
	return p.processed
}

// Line formats the current state.
func (p *Progress) Line() string {
	return p.line(p.nowFn())
}

func (p *Progress) line(now time.Time) string {
	elapsed := now.Sub(p.start)
	pct := 100.0
	if p.total > 0 {
		pct = float64(p.processed) * 100 / float64(p.total)
	}
	eta := "unknown"
	if p.processed > 0 && p.total >= p.processed {
		remaining := p.total - p.processed
		eta = FormatDuration(time.Duration(float64(elapsed) * float64(remaining) / float64(p.processed)))
	}
	return fmt.Sprintf("%s: %d/%d (%.1f%%) - Elapsed: %s - ETA: %s",
		p.label, p.processed, p.total, pct, FormatDuration(elapsed), eta)
}

// Finish emits the final summary unconditionally and returns it.
func (p *Progress) Finish() string {
	line := fmt.Sprintf("%s: completed %d/%d in %s", p.label, p.processed, p.total, FormatDuration(p.nowFn().Sub(p.start)))
	p.emit(line)
	return line
}

// FormatDuration renders d as "{h}h {m}m", "{m}m {s}s" or "{s}s".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	h, m, s := secs/3600, (secs%3600)/60, secs%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
