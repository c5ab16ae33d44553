// Package checker runs one provider's full synthetic check: adapter
// dispatch, timing, answer validation, and status classification. Every
// failure mode is converted into a classified CheckResult; nothing
// escapes a single provider's check.
package checker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/vigil/challenge"
	"github.com/petal-labs/vigil/core"
	"github.com/petal-labs/vigil/probe"
)

// Sanitized user-visible causes. Raw internal error identifiers never
// reach a CheckResult message.
const (
	msgTimeout    = "request timed out"
	msgEmptyReply = "empty reply"
	msgTransport  = "connection failed"
)

// Config configures a Checker. Only Settings is required; everything else
// defaults to production wiring.
type Config struct {
	// Settings is re-read at the start of every check so tunables take
	// effect without restarts.
	Settings func() core.Settings

	// Probers resolves the adapter for a provider type. Defaults to the
	// probe registry with a shared client cache.
	Probers func(t core.ProviderType) (probe.Prober, error)

	// NewChallenge produces the arithmetic challenge for one check.
	// Defaults to challenge.Generate.
	NewChallenge func() core.Challenge

	// Ping measures diagnostic reachability latency. Defaults to
	// probe.MeasurePing with a dedicated client.
	Ping func(ctx context.Context, endpoint string) *int64

	Logger *slog.Logger
	Now    func() time.Time
}

// Checker turns one ProviderConfig into one CheckResult.
type Checker struct {
	settings     func() core.Settings
	probers      func(t core.ProviderType) (probe.Prober, error)
	newChallenge func() core.Challenge
	ping         func(ctx context.Context, endpoint string) *int64
	logger       *slog.Logger
	now          func() time.Time
}

// New creates a Checker.
func New(cfg Config) (*Checker, error) {
	if cfg.Settings == nil {
		return nil, errors.New("checker: settings source is nil")
	}
	if cfg.Probers == nil {
		clients := probe.NewClientCache()
		cfg.Probers = func(t core.ProviderType) (probe.Prober, error) {
			return probe.New(t, probe.Options{Clients: clients})
		}
	}
	if cfg.NewChallenge == nil {
		cfg.NewChallenge = challenge.Generate
	}
	if cfg.Ping == nil {
		pingClient := &http.Client{}
		cfg.Ping = func(ctx context.Context, endpoint string) *int64 {
			return probe.MeasurePing(ctx, pingClient, endpoint)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Checker{
		settings:     cfg.Settings,
		probers:      cfg.Probers,
		newChallenge: cfg.NewChallenge,
		ping:         cfg.Ping,
		logger:       cfg.Logger,
		now:          cfg.Now,
	}, nil
}

// Check runs one provider's full check and always returns a classified
// result. The per-check ceiling bounds the adapter call regardless of
// provider; the diagnostic ping runs concurrently and never gates status.
func (c *Checker) Check(ctx context.Context, cfg core.ProviderConfig) core.CheckResult {
	settings := c.settings().Normalized()
	start := c.now()

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = probe.DefaultEndpoint(cfg.Type)
	}

	result := core.CheckResult{
		ID:        uuid.NewString(),
		Provider:  cfg.ID,
		Name:      cfg.Name,
		Type:      cfg.Type,
		Endpoint:  endpoint,
		Model:     cfg.Model,
		CheckedAt: start,
	}

	// Ping runs alongside the main call, not before it.
	pingCh := make(chan *int64, 1)
	go func() {
		pingCh <- c.ping(ctx, endpoint)
	}()

	ch := c.newChallenge()

	checkCtx, cancel := context.WithTimeout(ctx, settings.CheckTimeout)
	text, err := c.execute(checkCtx, cfg, ch.Prompt)
	deadlineHit := checkCtx.Err() != nil
	cancel()

	elapsed := c.now().Sub(start)
	c.classify(&result, settings, ch, text, err, elapsed, deadlineHit)

	// Attach the ping outcome (possibly nil) on every branch.
	result.PingLatencyMs = <-pingCh

	pass := result.Status == core.StatusOperational || result.Status == core.StatusDegraded
	c.logger.Info("provider check",
		"provider", cfg.ID,
		"type", string(cfg.Type),
		"prompt", ch.Prompt,
		"reply", text,
		"expected", ch.ExpectedAnswer,
		"status", string(result.Status),
		"pass", pass,
	)

	return result
}

// errConstruct marks an adapter construction failure (unsupported provider
// type). It aborts only the one check it belongs to.
var errConstruct = errors.New("adapter construction failed")

// execute dispatches to the adapter for the provider type. A construction
// failure (unsupported type) aborts only this check.
func (c *Checker) execute(ctx context.Context, cfg core.ProviderConfig, prompt string) (string, error) {
	prober, err := c.probers(cfg.Type)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errConstruct, err)
	}
	return prober.Execute(ctx, cfg, prompt)
}

// classify fills status, latency, and message from the call outcome.
func (c *Checker) classify(result *core.CheckResult, settings core.Settings, ch core.Challenge, text string, err error, elapsed time.Duration, deadlineHit bool) {
	elapsedMs := elapsed.Milliseconds()

	if err != nil {
		switch {
		case errors.Is(err, errConstruct):
			result.Status = core.StatusError
			result.Message = fmt.Sprintf("unsupported provider type %q", result.Type)
		case errors.Is(err, context.DeadlineExceeded),
			errors.Is(err, context.Canceled),
			deadlineHit:
			// Cancellation always renders as the fixed timeout message,
			// never a raw internal error name. No reply arrived, so
			// latency stays null.
			result.Status = core.StatusFailed
			result.Message = msgTimeout
		case errors.Is(err, probe.ErrEmptyReply):
			result.Status = core.StatusFailed
			result.Message = msgEmptyReply
			result.LatencyMs = &elapsedMs
		default:
			var protoErr *probe.ProtocolError
			if errors.As(err, &protoErr) && protoErr.StatusCode != 0 {
				result.Status = core.StatusError
				result.Message = fmt.Sprintf("endpoint returned HTTP %d", protoErr.StatusCode)
				result.LatencyMs = &elapsedMs
			} else if errors.As(err, &protoErr) {
				result.Status = core.StatusError
				result.Message = "malformed response"
				result.LatencyMs = &elapsedMs
			} else {
				result.Status = core.StatusError
				result.Message = msgTransport
			}
		}
		return
	}

	if strings.TrimSpace(text) == "" {
		result.Status = core.StatusFailed
		result.Message = msgEmptyReply
		result.LatencyMs = &elapsedMs
		return
	}

	result.LatencyMs = &elapsedMs

	validation := challenge.Validate(text, ch.ExpectedAnswer)
	if !validation.Valid {
		result.Status = core.StatusValidationFailed
		result.Message = fmt.Sprintf("expected %s, extracted [%s]",
			ch.ExpectedAnswer, strings.Join(validation.ExtractedNumbers, ", "))
		return
	}

	if elapsed <= settings.DegradedThreshold {
		result.Status = core.StatusOperational
	} else {
		result.Status = core.StatusDegraded
	}
	result.Message = fmt.Sprintf("answered in %d ms", elapsedMs)
}
