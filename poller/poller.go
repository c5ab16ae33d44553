// Package poller drives periodic provider checks. A single background loop
// ticks at the configured interval, fans out one check per provider, and
// appends each tick's results to history as one immutable batch. Ticks are
// single-flight: if a tick is still running when the next one fires, the
// new tick is skipped with a diagnostic instead of piling up.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/petal-labs/vigil/bus"
	"github.com/petal-labs/vigil/core"
	"github.com/petal-labs/vigil/history"
)

// CheckRunner executes one provider check.
type CheckRunner interface {
	Check(ctx context.Context, cfg core.ProviderConfig) core.CheckResult
}

// Config configures a Poller.
type Config struct {
	// Checker runs individual provider checks. Required.
	Checker CheckRunner

	// Providers is re-read at the start of every tick so provider edits
	// take effect without restarts. Required.
	Providers func() []core.ProviderConfig

	// Settings is re-read every tick for the poll interval. Required.
	Settings func() core.Settings

	// History receives one batched append per tick. Required.
	History history.Store

	// Bus receives tick and result events. Optional.
	Bus bus.EventBus

	// Cron, when set, replaces the fixed interval with a UTC cron
	// schedule (standard 5-field expressions, no timezone prefixes).
	Cron string

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

// Poller runs the check loop.
type Poller struct {
	checker   CheckRunner
	providers func() []core.ProviderConfig
	settings  func() core.Settings
	store     history.Store
	bus       bus.EventBus
	cron      string
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	inFlight bool
	tickedAt time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a Poller.
func New(cfg Config) (*Poller, error) {
	if cfg.Checker == nil {
		return nil, errors.New("poller: checker is nil")
	}
	if cfg.Providers == nil {
		return nil, errors.New("poller: providers source is nil")
	}
	if cfg.Settings == nil {
		return nil, errors.New("poller: settings source is nil")
	}
	if cfg.History == nil {
		return nil, errors.New("poller: history store is nil")
	}
	if cfg.Cron != "" {
		if _, err := parseCronExpressionUTC(cfg.Cron); err != nil {
			return nil, fmt.Errorf("poller: %w", err)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Poller{
		checker:   cfg.Checker,
		providers: cfg.Providers,
		settings:  cfg.Settings,
		store:     cfg.History,
		bus:       cfg.Bus,
		cron:      cfg.Cron,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}, nil
}

// Start begins background polling. The first tick runs immediately.
// Calling Start on a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) error {
	if p == nil {
		return errors.New("poller is nil")
	}

	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	go p.loop(loopCtx, done)

	_ = ctx
	return nil
}

// Stop halts background polling and waits for the loop to exit. An
// in-flight tick is cancelled through the loop context.
func (p *Poller) Stop(ctx context.Context) error {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	// Ticks run off the loop goroutine so a slow tick never delays the
	// next boundary. A boundary that fires mid-tick hits the in-flight
	// guard and is skipped, not queued.
	var wg sync.WaitGroup
	runTick := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.tick(ctx)
		}()
	}

	runTick()

	timer := time.NewTimer(p.untilNextTick())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-timer.C:
			runTick()
			timer.Reset(p.untilNextTick())
		}
	}
}

// untilNextTick computes the delay before the next tick from either the
// cron schedule or the settings interval. The interval is re-read every
// tick so settings edits take effect without restarts.
func (p *Poller) untilNextTick() time.Duration {
	now := p.now().UTC()
	if p.cron != "" {
		next, err := nextCronRunUTC(p.cron, now)
		if err == nil {
			return next.Sub(now)
		}
		// Validated at construction; fall through only if the
		// expression was mutated somehow.
	}
	return p.settings().Normalized().PollInterval
}

// tick runs one pass unless the previous one is still in flight, in which
// case it logs a skip diagnostic and publishes a tick.skipped event.
func (p *Poller) tick(ctx context.Context) {
	now := p.now().UTC()

	p.mu.Lock()
	if p.inFlight {
		startedAt := p.tickedAt
		p.mu.Unlock()
		p.logger.Warn("tick skipped, previous tick still running",
			"in_flight_for", now.Sub(startedAt).String(),
		)
		p.publish(bus.Event{Kind: bus.EventTickSkipped, Time: now})
		return
	}
	p.inFlight = true
	p.tickedAt = now
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight = false
		p.mu.Unlock()
	}()

	if err := p.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error("tick failed", "error", err)
	}
}

// RunOnce executes a single tick: every provider is checked concurrently
// and the results are appended to history as one batch. A panic in a
// provider check is recovered into an error-status result so one bad
// adapter cannot take the loop down.
func (p *Poller) RunOnce(ctx context.Context) error {
	if p == nil || p.checker == nil || p.store == nil {
		return errors.New("poller is not configured")
	}

	providers := p.providers()
	if len(providers) == 0 {
		p.logger.Debug("tick skipped, no providers configured")
		return nil
	}

	start := p.now().UTC()
	p.publish(bus.Event{Kind: bus.EventTickStarted, Time: start})

	results := make([]core.CheckResult, len(providers))
	var wg sync.WaitGroup
	for i, provider := range providers {
		wg.Add(1)
		go func(i int, provider core.ProviderConfig) {
			defer wg.Done()
			results[i] = p.safeCheck(ctx, provider)
		}(i, provider)
	}
	wg.Wait()

	counts := make(map[core.Status]int, len(results))
	for i := range results {
		counts[results[i].Status]++
		p.publish(bus.Event{
			Kind:     bus.EventCheckResult,
			Time:     results[i].CheckedAt,
			Provider: results[i].Provider,
			Result:   &results[i],
		})
	}

	snapshot, appendErr := p.store.Append(ctx, results)

	finish := p.now().UTC()
	duration := finish.Sub(start)

	// The summary line is emitted even when the append fails; only the
	// history snapshot counts are unavailable then.
	if appendErr != nil {
		p.logger.Info("tick completed",
			"providers", len(results),
			"operational", counts[core.StatusOperational],
			"degraded", counts[core.StatusDegraded],
			"validation_failed", counts[core.StatusValidationFailed],
			"failed", counts[core.StatusFailed],
			"error", counts[core.StatusError],
			"duration", duration.String(),
			"append_error", appendErr.Error(),
			"next_tick", finish.Add(p.untilNextTick()).Format(time.RFC3339),
		)
		return fmt.Errorf("poller: append results: %w", appendErr)
	}
	p.publish(bus.Event{
		Kind: bus.EventTickCompleted,
		Time: finish,
		Tick: &bus.TickSummary{
			Providers:    len(results),
			StatusCounts: counts,
			Duration:     duration,
		},
	})

	p.logger.Info("tick completed",
		"providers", len(results),
		"operational", counts[core.StatusOperational],
		"degraded", counts[core.StatusDegraded],
		"validation_failed", counts[core.StatusValidationFailed],
		"failed", counts[core.StatusFailed],
		"error", counts[core.StatusError],
		"duration", duration.String(),
		"history_providers", snapshot.Providers,
		"history_records", snapshot.Records,
		"next_tick", finish.Add(p.untilNextTick()).Format(time.RFC3339),
	)
	return nil
}

func (p *Poller) safeCheck(ctx context.Context, provider core.ProviderConfig) (result core.CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("check panicked", "provider", provider.ID, "panic", r)
			result = core.CheckResult{
				Provider:  provider.ID,
				Name:      provider.Name,
				Type:      provider.Type,
				Endpoint:  provider.Endpoint,
				Model:     provider.Model,
				Status:    core.StatusError,
				CheckedAt: p.now().UTC(),
				Message:   "internal check failure",
			}
		}
	}()
	return p.checker.Check(ctx, provider)
}

func (p *Poller) publish(event bus.Event) {
	if p.bus != nil {
		p.bus.Publish(event)
	}
}
