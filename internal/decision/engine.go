// Package decision turns platform events into rate-tracker records and
// quarantine transitions.
package decision

import (
	"context"
	"fmt"
	"time"

	"nukeguard/internal/auth"
	"nukeguard/internal/limits"
	"nukeguard/internal/logging"
	"nukeguard/internal/metrics"
	"nukeguard/internal/models"
	"nukeguard/internal/platform"
	"nukeguard/internal/quarantine"
	"nukeguard/internal/ratetracker"
)

type ConfigSource interface {
	Get(ctx context.Context, communityID string) limits.RateWindowConfig
}

type Recorder interface {
	Record(key ratetracker.Key, timeFrame time.Duration, maxAllowed int) bool
}

type Gate interface {
	IsExempt(ctx context.Context, ac auth.AuthorizationContext) (bool, error)
	IsNewAutomatedAccount(m *platform.Member) bool
}

type Attributor interface {
	Attribute(ctx context.Context, communityID string, kind platform.AuditKind, targetID string, at time.Time) (string, error)
}

type Quarantine interface {
	Enact(ctx context.Context, communityID, principalID, reason string) (quarantine.Outcome, error)
	Enforce(ctx context.Context, communityID, principalID string, before, after []string) ([]string, error)
	DemoteAutomatedAccount(ctx context.Context, communityID string, account *platform.Member) ([]string, error)
}

// Engine runs the detection pipeline for one event at a time. Handle is
// safe to call from many goroutines.
type Engine struct {
	config     ConfigSource
	tracker    Recorder
	gate       Gate
	attributor Attributor
	quarantine Quarantine
	timeout    time.Duration
}

func NewEngine(config ConfigSource, tracker Recorder, gate Gate, attributor Attributor, q Quarantine, timeout time.Duration) *Engine {
	return &Engine{
		config:     config,
		tracker:    tracker,
		gate:       gate,
		attributor: attributor,
		quarantine: q,
		timeout:    timeout,
	}
}

// Handle processes ev. Errors are logged here; the returned error is for
// callers that want to count failures.
func (e *Engine) Handle(ctx context.Context, ev Event) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		metrics.HandlerDuration.WithLabelValues(ev.Kind.String()).Observe(time.Since(start).Seconds())
	}()
	metrics.EventsProcessed.WithLabelValues(ev.Kind.String()).Inc()

	switch ev.Kind {
	case MembershipUpdated:
		return e.enforce(ctx, ev)
	case PrincipalJoined:
		return e.joined(ctx, ev)
	}

	action, ok := ev.Kind.Action()
	if !ok {
		skip("untracked")
		return nil
	}
	return e.track(ctx, ev, action)
}

func (e *Engine) track(ctx context.Context, ev Event, action models.ActionType) error {
	cfg := e.config.Get(ctx, ev.CommunityID)
	if !cfg.Enabled {
		skip("disabled")
		return nil
	}

	actor := ev.ActorID
	if actor == "" {
		at := ev.At
		if at.IsZero() {
			at = time.Now()
		}
		resolved, err := e.attributor.Attribute(ctx, ev.CommunityID, trackedKinds[ev.Kind].audit, ev.TargetID, at)
		if err != nil {
			skip("attribution_error")
			logging.Warn("attribution of %s on %s in %s failed: %v", ev.Kind, ev.TargetID, ev.CommunityID, err)
			return err
		}
		if resolved == "" {
			skip("unattributed")
			return nil
		}
		actor = resolved
	}

	exempt, err := e.gate.IsExempt(ctx, auth.Subject{Community: ev.CommunityID, Principal: actor})
	if err != nil {
		// unresolved exemption: drop the event
		skip("gate_error")
		logging.Warn("exemption check for %s in %s failed: %v", actor, ev.CommunityID, err)
		return err
	}
	if exempt {
		skip("exempt")
		return nil
	}

	maxAllowed, ok := cfg.MaxFor(action)
	if !ok {
		logging.Warn("no maximum configured for %s in %s, using %d", action, ev.CommunityID, limits.FallbackMax)
		maxAllowed = limits.FallbackMax
	}

	key := ratetracker.Key{Principal: actor, Community: ev.CommunityID, Action: action}
	metrics.ActionsRecorded.WithLabelValues(string(action)).Inc()
	if !e.tracker.Record(key, cfg.Window(), maxAllowed) {
		return nil
	}

	metrics.LimitsExceeded.WithLabelValues(string(action)).Inc()
	reason := fmt.Sprintf("%s limit exceeded", action)
	logging.Warn("%s by %s in %s (max %d per %s)", reason, actor, ev.CommunityID, maxAllowed, cfg.Window())

	if _, err := e.quarantine.Enact(ctx, ev.CommunityID, actor, reason); err != nil {
		return fmt.Errorf("restrict %s: %w", actor, err)
	}
	return nil
}

func (e *Engine) enforce(ctx context.Context, ev Event) error {
	if _, err := e.quarantine.Enforce(ctx, ev.CommunityID, ev.TargetID, ev.Before, ev.After); err != nil {
		return fmt.Errorf("enforce restriction on %s: %w", ev.TargetID, err)
	}
	return nil
}

func (e *Engine) joined(ctx context.Context, ev Event) error {
	if ev.Member == nil || !e.gate.IsNewAutomatedAccount(ev.Member) {
		return nil
	}
	if _, err := e.quarantine.DemoteAutomatedAccount(ctx, ev.CommunityID, ev.Member); err != nil {
		return fmt.Errorf("quarantine bot %s: %w", ev.Member.UserID, err)
	}
	return nil
}

func skip(reason string) {
	metrics.EventsSkipped.WithLabelValues(reason).Inc()
}
