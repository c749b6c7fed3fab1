package integration

import (
	"fmt"
	"time"
)

// FlowKey identifies a sync flow.
type FlowKey struct {
	Marketplace MarketplaceCode
	EntityType  EntityType
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s/%s", k.Marketplace, k.EntityType)
}

// FlowState is the state machine of one flow:
// Idle -> Running -> {Completed, PartiallyFailed, Failed} -> Idle.
// Failed caused by an AuthError stays Failed until configuration reload.
type FlowState string

const (
	FlowIdle            FlowState = "idle"
	FlowRunning         FlowState = "running"
	FlowCompleted       FlowState = "completed"
	FlowPartiallyFailed FlowState = "partially_failed"
	FlowFailed          FlowState = "failed"
)

// IsTerminal reports whether the state ends a run.
func (s FlowState) IsTerminal() bool {
	return s == FlowCompleted || s == FlowPartiallyFailed || s == FlowFailed
}

// RunSummary aggregates per-entity results of one run.
type RunSummary struct {
	Total       int
	Succeeded   int
	Failed      int
	Skipped     int
	Abandoned   int
	Unreachable int
	AuthFailed  bool
	LastError   ErrorKind
	StartedAt   time.Time
	FinishedAt  time.Time
}

// RecordSuccess counts a succeeded entity.
func (s *RunSummary) RecordSuccess() {
	s.Total++
	s.Succeeded++
}

// RecordSkip counts an entity that needed no remote call.
func (s *RunSummary) RecordSkip() {
	s.Total++
	s.Skipped++
}

// RecordFailure counts a failed entity by kind.
func (s *RunSummary) RecordFailure(kind ErrorKind) {
	s.Total++
	s.Failed++
	s.LastError = kind
	switch kind {
	case ErrorKindAuth:
		s.AuthFailed = true
	case ErrorKindTransient, ErrorKindRateLimited, ErrorKindDeadlineExceeded:
		s.Unreachable++
	}
}

// RecordAbandoned counts entities dropped after an AuthError.
func (s *RunSummary) RecordAbandoned(n int) {
	s.Total += n
	s.Abandoned += n
}

// Outcome computes the terminal state. Abandoned entities count as
// unreachable failures. Failed when the marketplace was unreachable (auth
// failure, or nothing succeeded and every failure was transport-level),
// PartiallyFailed on any other failure, Completed otherwise.
func (s *RunSummary) Outcome() FlowState {
	switch {
	case s.AuthFailed:
		return FlowFailed
	case s.Failed == 0 && s.Abandoned == 0:
		return FlowCompleted
	case s.Succeeded == 0 && s.Unreachable == s.Failed:
		return FlowFailed
	default:
		return FlowPartiallyFailed
	}
}

const (
	// MinPollSafetyMargin is the smallest gap kept between a poll run's deadline and the next tick.
	MinPollSafetyMargin = time.Second
	pollSafetyDivisor   = 10
)

// PollDeadline is the run deadline for a poll interval: the interval minus a
// 10% safety margin of at least one second, so a run never overlaps its own
// next tick. Very short intervals get half the interval.
func PollDeadline(interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	margin := max(interval/pollSafetyDivisor, MinPollSafetyMargin)
	if margin >= interval/2 {
		return interval / 2
	}
	return interval - margin
}

// TriggerResult tells the caller what a trigger did.
type TriggerResult string

const (
	TriggerStarted    TriggerResult = "started"
	TriggerCoalesced  TriggerResult = "coalesced"
	TriggerSuppressed TriggerResult = "suppressed"
	TriggerDisabled   TriggerResult = "disabled"
)

// FlowStatus is the operator view of a flow.
type FlowStatus struct {
	Key             FlowKey
	State           FlowState
	LastOutcome     FlowState
	LastErrorKind   ErrorKind
	Suppressed      bool
	RerunPending    bool
	LastRunStarted  *time.Time
	LastRunFinished *time.Time
	LastSummary     RunSummary
	Runs            int64
}
