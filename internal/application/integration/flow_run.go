package integration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meschain/syncengine/internal/domain/integration"
)

// flowRun holds the state machine of one (marketplace, entity_type) flow.
//
// lock is the non-reentrancy lock: poll runs and webhook events for the flow
// hold it while they talk to the marketplace. state, rerun and the run history
// are guarded by mu.
type flowRun struct {
	key  integration.FlowKey
	lock chan struct{}

	mu           sync.Mutex
	state        integration.FlowState
	rerun        bool
	rerunRetry   bool
	lastOutcome  integration.FlowState
	lastSummary  integration.RunSummary
	lastStarted  *time.Time
	lastFinished *time.Time
	runs         int64

	// watermark is the start of the last run that saw every changed entity.
	watermark time.Time
	// followUps are entities that failed retryably and get another attempt next poll.
	followUps map[string]struct{}
}

func newFlowRun(key integration.FlowKey) *flowRun {
	return &flowRun{
		key:       key,
		lock:      make(chan struct{}, 1),
		state:     integration.FlowIdle,
		followUps: make(map[string]struct{}),
	}
}

func (f *flowRun) acquire(ctx context.Context) error {
	select {
	case f.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for flow %s: %v", integration.ErrDeadlineExceeded, f.key, ctx.Err())
	}
}

func (f *flowRun) release() {
	<-f.lock
}

// begin moves the flow to Running. When a run is already in progress the
// trigger is coalesced into a single pending re-run and begin returns false.
func (f *flowRun) begin(retryErrors bool, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == integration.FlowRunning {
		f.rerun = true
		f.rerunRetry = f.rerunRetry || retryErrors
		return false
	}
	f.state = integration.FlowRunning
	f.lastStarted = &now
	return true
}

// finish records the terminal state of a run. It returns true when a
// coalesced trigger asks for one more run, in which case the flow stays Running.
func (f *flowRun) finish(summary integration.RunSummary) (again bool, retryErrors bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	outcome := summary.Outcome()
	finished := summary.FinishedAt
	f.lastOutcome = outcome
	f.lastSummary = summary
	f.lastFinished = &finished
	f.runs++

	if summary.AuthFailed {
		// Stays Failed until a configuration reload resets it.
		f.state = integration.FlowFailed
		f.rerun, f.rerunRetry = false, false
		return false, false
	}
	if f.rerun {
		retryErrors = f.rerunRetry
		f.rerun, f.rerunRetry = false, false
		started := summary.FinishedAt
		f.lastStarted = &started
		return true, retryErrors
	}
	f.state = integration.FlowIdle
	return false, false
}

// reset returns a flow left Failed by an authentication failure to Idle.
func (f *flowRun) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == integration.FlowFailed {
		f.state = integration.FlowIdle
	}
}

// snapshot returns the watermark and pending follow-ups for a new run.
func (f *flowRun) snapshot() (time.Time, map[string]struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	followUps := make(map[string]struct{}, len(f.followUps))
	for id := range f.followUps {
		followUps[id] = struct{}{}
	}
	return f.watermark, followUps
}

// advance commits a run's results: followUps replaces the pending set, and
// the watermark moves to runStart only if the run saw every entity.
func (f *flowRun) advance(runStart time.Time, complete bool, followUps map[string]struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if complete && runStart.After(f.watermark) {
		f.watermark = runStart
	}
	if followUps == nil {
		followUps = make(map[string]struct{})
	}
	f.followUps = followUps
}

// addFollowUp schedules an entity for the next poll.
func (f *flowRun) addFollowUp(entityID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followUps[entityID] = struct{}{}
}

func (f *flowRun) status(suppressed bool) integration.FlowStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return integration.FlowStatus{
		Key:             f.key,
		State:           f.state,
		LastOutcome:     f.lastOutcome,
		LastErrorKind:   f.lastSummary.LastError,
		Suppressed:      suppressed,
		RerunPending:    f.rerun,
		LastRunStarted:  f.lastStarted,
		LastRunFinished: f.lastFinished,
		LastSummary:     f.lastSummary,
		Runs:            f.runs,
	}
}
