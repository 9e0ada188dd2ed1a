package filer

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// SideEffect is one post-commit action. Effects must not touch the entity
// store; the committed state is final.
type SideEffect interface {
	Name() string
	Applies(o Outcome) bool
	Run(ctx context.Context, o Outcome) error
}

// EffectResult records how one side effect ended.
type EffectResult struct {
	Name     string
	Err      error
	Duration time.Duration
}

// Cascade runs side effects after a commit. Each effect gets its own
// goroutine and failure boundary; a failure is logged and reported, never
// retried, and never affects the other effects.
type Cascade struct {
	effects []SideEffect
	timeout time.Duration
	settings
}

// NewCascade builds a cascade over effects. A positive timeout bounds each effect.
func NewCascade(effects []SideEffect, timeout time.Duration, opts ...Option) *Cascade {
	return &Cascade{
		effects:  append([]SideEffect(nil), effects...),
		timeout:  timeout,
		settings: applyOptions(opts),
	}
}

// Effects lists the configured effect names.
func (c *Cascade) Effects() []string {
	out := make([]string, 0, len(c.effects))
	for _, e := range c.effects {
		out = append(out, e.Name())
	}
	return out
}

// Launch tracks the effects started by one Run.
type Launch struct {
	wg      sync.WaitGroup
	mu      sync.Mutex
	results []EffectResult
}

// Wait blocks until every effect has finished and returns their results in
// completion order.
func (l *Launch) Wait() []EffectResult {
	l.wg.Wait()
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]EffectResult(nil), l.results...)
}

// Run starts every applicable effect. It does not block.
func (c *Cascade) Run(ctx context.Context, o Outcome) *Launch {
	l := &Launch{}
	// Effects outlive the delivery context of the message that triggered them.
	base := context.WithoutCancel(ctx)
	for _, effect := range c.effects {
		if !effect.Applies(o) {
			continue
		}
		l.wg.Add(1)
		go c.runOne(base, effect, o, l)
	}
	return l
}

func (c *Cascade) runOne(ctx context.Context, effect SideEffect, o Outcome, l *Launch) {
	defer l.wg.Done()
	started := time.Now()
	name := effect.Name()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	ctx, span := c.tracer.Start(ctx, "effect_"+name)

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("side effect %s panicked: %v", name, r)
				c.logger.Error("side effect panic", "effect", name, "stack", string(debug.Stack()))
			}
		}()
		err = effect.Run(ctx, o)
	}()

	elapsed := time.Since(started)
	span.End(err)
	c.metrics.Observe(ctx, "effect_"+name, err == nil, elapsed)
	if err != nil {
		c.logger.Error("side effect failed",
			"effect", name,
			"filing_id", o.Filing.ID,
			"identifier", o.Business.Identifier,
			"error", err,
		)
		c.reporter.Report(ctx, err, map[string]any{
			"effect":     name,
			"filing_id":  o.Filing.ID,
			"identifier": o.Business.Identifier,
		})
	} else {
		c.logger.Debug("side effect done", "effect", name, "filing_id", o.Filing.ID)
	}
	l.mu.Lock()
	l.results = append(l.results, EffectResult{Name: name, Err: err, Duration: elapsed})
	l.mu.Unlock()
}
