package executor

import (
	"fmt"
	"sync"
	"time"

	"novacore/internal/domain/mission"
	"novacore/internal/logging"
)

// nodeState holds transition bookkeeping for one node within one run.
type nodeState struct {
	status    mission.NodeTraceStatus
	startedAt time.Time
}

// nodeTracker enforces the running->(completed|failed|skipped) transition
// for every node in a run and logs durations, the same mutex-guarded
// state-machine shape as a single long-lived node tracker, generalized
// here to track every node of one mission run concurrently-safely.
type nodeTracker struct {
	mu     sync.Mutex
	states map[string]*nodeState
	logger logging.Logger
}

func newNodeTracker(logger logging.Logger) *nodeTracker {
	return &nodeTracker{states: make(map[string]*nodeState), logger: logging.OrNop(logger)}
}

// start transitions nodeID into running. Calling start twice for the same
// node within a run is a programmer error and panics, mirroring the
// teacher's canTransition guard.
func (t *nodeTracker) start(nodeID, label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[nodeID]; ok {
		panic(fmt.Sprintf("node %q already transitioned to %s", nodeID, s.status))
	}
	t.states[nodeID] = &nodeState{status: mission.TraceRunning, startedAt: time.Now()}
	t.logger.Debug("node %s (%s) started", label, nodeID)
}

// finish transitions nodeID to a terminal status and logs its duration.
func (t *nodeTracker) finish(nodeID, label string, status mission.NodeTraceStatus, reason string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[nodeID]
	if !ok {
		s = &nodeState{startedAt: time.Now()}
		t.states[nodeID] = s
	}
	duration := time.Since(s.startedAt)
	s.status = status

	switch status {
	case mission.TraceFailed:
		t.logger.Warn("node %s (%s) failed after %s: %s", label, nodeID, duration, reason)
	case mission.TraceSkipped:
		t.logger.Debug("node %s (%s) skipped: %s", label, nodeID, reason)
	default:
		t.logger.Debug("node %s (%s) completed in %s", label, nodeID, duration)
	}
	return duration
}
