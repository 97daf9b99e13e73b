// Package risk computes an explainable 0-100 risk score for a telemetry
// event from the actor's recent history. The score is a weighted sum of
// normalized features; the output lists every contributing factor so the
// number can be audited, not just consumed.
package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"veridian-hq/warden/pkg/audit"
)

// Feature weights, chosen for interpretability. The score maps the weighted
// sum onto 0-100 against the maximum attainable raw value.
const (
	weightViolations   = 30.0
	weightDistinctIPs  = 10.0
	weightFailedLogins = 20.0
	weightUnusualHour  = 10.0
	weightNovelty      = 15.0
)

// Features are the raw inputs to a score.
type Features struct {
	TotalRecentEvents  int  `json:"total_recent_events"`
	ViolationCount24h  int  `json:"violation_count_24h"`
	DistinctIPCount24h int  `json:"distinct_ip_count_24h"`
	FailedLogins1h     int  `json:"recent_failed_logins_1h"`
	UnusualHour        bool `json:"unusual_hour"`
	SourceNovelty      bool `json:"source_novelty"`
}

// Factor is one feature's contribution to the final score.
type Factor struct {
	Name         string  `json:"name"`
	Value        float64 `json:"value"`
	Contribution int     `json:"contribution"`
}

// Score is the result of a risk computation.
type Score struct {
	Score    int      `json:"score"` // 0-100
	Factors  []Factor `json:"factors"`
	Features Features `json:"features"`
}

// Compute scores a feature set. Normalization caps: 5 violations, 3 distinct
// IPs and 5 failed logins each saturate their feature.
func Compute(features Features) *Score {
	vNorm := math.Min(1.0, float64(features.ViolationCount24h)/5.0)
	ipNorm := math.Min(1.0, float64(features.DistinctIPCount24h)/3.0)
	failNorm := math.Min(1.0, float64(features.FailedLogins1h)/5.0)
	unusual := boolToFloat(features.UnusualHour)
	novelty := boolToFloat(features.SourceNovelty)

	raw := weightViolations*vNorm +
		weightDistinctIPs*ipNorm +
		weightFailedLogins*failNorm +
		weightUnusualHour*unusual +
		weightNovelty*novelty

	maxRaw := weightViolations + weightDistinctIPs + weightFailedLogins + weightUnusualHour + weightNovelty
	score := int(math.Min(100, math.Round(raw/maxRaw*100)))

	return &Score{
		Score: score,
		Factors: []Factor{
			{Name: "violation_count_24h", Value: float64(features.ViolationCount24h), Contribution: int(weightViolations * vNorm)},
			{Name: "distinct_ip_count_24h", Value: float64(features.DistinctIPCount24h), Contribution: int(weightDistinctIPs * ipNorm)},
			{Name: "recent_failed_logins_1h", Value: float64(features.FailedLogins1h), Contribution: int(weightFailedLogins * failNorm)},
			{Name: "unusual_hour", Value: unusual, Contribution: int(weightUnusualHour * unusual)},
			{Name: "source_novelty", Value: novelty, Contribution: int(weightNovelty * novelty)},
		},
		Features: features,
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

// ViolationCounter supplies the per-actor violation count.
type ViolationCounter interface {
	CountActorViolations(ctx context.Context, actor string, since time.Time) (int, error)
}

// Scorer extracts features from the stores and computes scores.
type Scorer struct {
	events     audit.Store
	violations ViolationCounter
}

// NewScorer creates a scorer over the audit log and violation counts.
func NewScorer(events audit.Store, violations ViolationCounter) *Scorer {
	return &Scorer{events: events, violations: violations}
}

// maxHistoryEvents bounds how much of the actor's recent history feature
// extraction inspects.
const maxHistoryEvents = 200

// ScoreEvent extracts the actor's recent-history features and computes the
// event's risk score. Anonymous events score zero with no factors inspected.
func (s *Scorer) ScoreEvent(ctx context.Context, event *audit.Event) (*Score, error) {
	if event.Actor == "" {
		return Compute(Features{}), nil
	}

	now := event.Timestamp
	windowStart := now.Add(-24 * time.Hour)
	failWindowStart := now.Add(-1 * time.Hour)

	violations, err := s.violations.CountActorViolations(ctx, event.Actor, windowStart)
	if err != nil {
		return nil, fmt.Errorf("count actor violations: %w", err)
	}

	chain, err := s.events.ListActorChain(ctx, event.Actor)
	if err != nil {
		return nil, fmt.Errorf("list actor history: %w", err)
	}

	features := Features{ViolationCount24h: violations}
	distinctIPs := make(map[string]struct{})
	sources := make(map[string]struct{})

	inspected := 0
	for i := len(chain) - 1; i >= 0 && inspected < maxHistoryEvents; i-- {
		prior := chain[i].Event
		if prior.ID == event.ID || prior.Timestamp.After(now) {
			continue
		}
		if prior.Timestamp.Before(windowStart) {
			break
		}
		inspected++
		features.TotalRecentEvents++

		if ip, ok := prior.Details["remote_addr"].(string); ok && ip != "" {
			distinctIPs[ip] = struct{}{}
		}
		if prior.Type == "auth" && prior.Summary == "user_login_failed" &&
			!prior.Timestamp.Before(failWindowStart) {
			features.FailedLogins1h++
		}
		sources[prior.Source] = struct{}{}
	}

	features.DistinctIPCount24h = len(distinctIPs)

	hour := event.Timestamp.UTC().Hour()
	features.UnusualHour = hour < 6 || hour > 22

	_, seen := sources[event.Source]
	features.SourceNovelty = !seen

	return Compute(features), nil
}
