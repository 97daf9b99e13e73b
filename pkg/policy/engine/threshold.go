package engine

import (
	"context"
	"fmt"
	"time"

	"veridian-hq/warden/pkg/policy"
)

// WindowCounter supplies the sliding-window counts a threshold check needs.
// Implementations query the violation and event stores; the evaluator itself
// stays a pure computation over the returned counts.
type WindowCounter interface {
	// CountControlViolations returns the number of violations recorded for
	// the control since the given instant.
	CountControlViolations(ctx context.Context, controlID string, since time.Time) (int, error)

	// CountActorEvents returns the total number of events recorded for the
	// actor since the given instant.
	CountActorEvents(ctx context.Context, actor string, since time.Time) (int, error)
}

// ThresholdResult reproduces a threshold decision offline: the configured
// type, value and window, the raw counts used, and the breached flag.
type ThresholdResult struct {
	Type          policy.ThresholdType `json:"type"`
	Value         float64              `json:"value"`
	WindowSeconds int                  `json:"window_seconds"`
	RecentCount   int                  `json:"recent_count,omitempty"`
	TotalEvents   int                  `json:"total_events,omitempty"`
	RecentPercent float64              `json:"recent_percent,omitempty"`
	Breached      bool                 `json:"breached"`
}

// EvaluateThreshold computes the sliding-window aggregate check for a
// control with an attached threshold, relative to now and the actor of the
// triggering event. Controls without a threshold yield (nil, nil).
//
// The percent type divides control violations in the window by the actor's
// total events in the same window. Those are deliberately different
// populations (per-control numerator, per-actor denominator), preserved
// as-is from the policy definition semantics; policy authors should review
// whether that mix is what they intend. A zero denominator is defined as
// percent 0, never a division error.
func EvaluateThreshold(ctx context.Context, counter WindowCounter, control *policy.Control, actor string, now time.Time) (*ThresholdResult, error) {
	thr := control.Threshold
	if thr == nil {
		return nil, nil
	}
	if thr.WindowSeconds <= 0 {
		return nil, fmt.Errorf("control %q: threshold window_seconds must be positive", control.Name)
	}

	since := now.Add(-time.Duration(thr.WindowSeconds) * time.Second)

	res := &ThresholdResult{
		Type:          thr.Type,
		Value:         thr.Value,
		WindowSeconds: thr.WindowSeconds,
	}

	switch thr.Type {
	case policy.ThresholdCount, policy.ThresholdTimeWindow:
		// time_window is mechanically count; the label is kept distinct for
		// audit clarity.
		recent, err := counter.CountControlViolations(ctx, control.ID, since)
		if err != nil {
			return nil, fmt.Errorf("count violations for control %q: %w", control.Name, err)
		}
		res.RecentCount = recent
		res.Breached = float64(recent) >= thr.Value

	case policy.ThresholdPercent:
		recent, err := counter.CountControlViolations(ctx, control.ID, since)
		if err != nil {
			return nil, fmt.Errorf("count violations for control %q: %w", control.Name, err)
		}
		total, err := counter.CountActorEvents(ctx, actor, since)
		if err != nil {
			return nil, fmt.Errorf("count events for actor %q: %w", actor, err)
		}
		res.RecentCount = recent
		res.TotalEvents = total
		if total > 0 {
			res.RecentPercent = float64(recent) / float64(total) * 100.0
		}
		res.Breached = res.RecentPercent >= thr.Value

	default:
		return nil, fmt.Errorf("control %q: unknown threshold type %q", control.Name, thr.Type)
	}

	return res, nil
}
