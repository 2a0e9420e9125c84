// Package scheduler implements the lane-weighted, bounded Request
// Scheduler gating all user-scoped work (chat turns, mission runs).
package scheduler

import (
	"context"
	"sync"
	"time"

	"novacore/internal/logging"
)

// Lane names, in declared fallback-scan order.
const (
	LaneFast       = "fast"
	LaneDefault    = "default"
	LaneTool       = "tool"
	LaneBackground = "background"
)

var laneOrder = []string{LaneFast, LaneDefault, LaneTool, LaneBackground}

// Config tunes the scheduler's caps and fairness knobs.
type Config struct {
	LaneWeights map[string]int

	MaxInFlightGlobal         int
	MaxInFlightPerUser        int
	MaxInFlightPerConversation int

	MaxQueueSize        int
	MaxQueueSizePerUser int

	QueueStale time.Duration

	SupersedeQueuedByKey bool
	// StrictIsolation scopes supersede matching to the originating
	// userId instead of cancelling queued jobs across all users. See
	// the open question in the design notes.
	StrictIsolation bool
}

// DefaultConfig returns sensible scheduler defaults.
func DefaultConfig() Config {
	return Config{
		LaneWeights: map[string]int{
			LaneFast:       4,
			LaneDefault:    2,
			LaneTool:       1,
			LaneBackground: 1,
		},
		MaxInFlightGlobal:          32,
		MaxInFlightPerUser:         4,
		MaxInFlightPerConversation: 2,
		MaxQueueSize:               500,
		MaxQueueSizePerUser:        50,
		QueueStale:                 60 * time.Second,
		SupersedeQueuedByKey:       true,
		StrictIsolation:            false,
	}
}

// RunFunc is the work a job performs once dispatched.
type RunFunc func(ctx context.Context) (any, error)

// EnqueueParams describes one unit of scheduled work.
type EnqueueParams struct {
	Lane           string
	UserID         string
	ConversationID string
	SupersedeKey   string
	Run            RunFunc
}

type job struct {
	lane           string
	userID         string
	conversationID string
	supersedeKey   string
	run            RunFunc
	enqueuedAt     time.Time
	result         chan jobResult
}

type jobResult struct {
	value any
	err   error
}

// Scheduler is a lane-weighted bounded queue with per-user/conversation
// concurrency caps and supersede-by-key cancellation of queued work.
type Scheduler struct {
	mu     sync.Mutex
	config Config
	logger logging.Logger
	now    func() time.Time

	queues map[string][]*job // lane -> FIFO

	inFlightGlobal         int
	inFlightByUser         map[string]int
	inFlightByConversation map[string]int

	rrVector []string
	rrCursor int

	closed bool
}

// New constructs a Scheduler and starts no background goroutine; dispatch
// runs synchronously on the calling goroutine of Enqueue and of each
// job's completion.
func New(config Config, logger logging.Logger) *Scheduler {
	s := &Scheduler{
		config:                 config,
		logger:                 logging.OrNop(logger),
		now:                    time.Now,
		queues:                 make(map[string][]*job),
		inFlightByUser:         make(map[string]int),
		inFlightByConversation: make(map[string]int),
	}
	s.rrVector = buildRoundRobinVector(config.LaneWeights)
	return s
}

func buildRoundRobinVector(weights map[string]int) []string {
	var vec []string
	for _, lane := range laneOrder {
		w := weights[lane]
		for i := 0; i < w; i++ {
			vec = append(vec, lane)
		}
	}
	if len(vec) == 0 {
		vec = append(vec, laneOrder...)
	}
	return vec
}

// Enqueue submits work and blocks until it is dispatched and completes,
// or is rejected. The returned error, when non-nil, is a *RejectError,
// the RunFunc's own error, or ctx.Err() when ctx ends first.
func (s *Scheduler) Enqueue(ctx context.Context, p EnqueueParams) (any, error) {
	if p.Run == nil {
		return nil, reject(CodeInvalidJob, 0, "run function is nil")
	}
	lane := p.Lane
	if lane == "" {
		lane = LaneDefault
	}

	j := &job{
		lane:           lane,
		userID:         p.UserID,
		conversationID: p.ConversationID,
		supersedeKey:   p.SupersedeKey,
		run:            p.Run,
		enqueuedAt:     s.now(),
		result:         make(chan jobResult, 1),
	}

	if err := s.push(j); err != nil {
		return nil, err
	}

	s.dispatch()

	select {
	case res := <-j.result:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Scheduler) push(j *job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneStaleLocked()

	totalQueued := s.totalQueuedLocked()
	if totalQueued >= s.config.MaxQueueSize {
		return reject(CodeQueueFull, 250, "queue full (%d/%d)", totalQueued, s.config.MaxQueueSize)
	}

	if j.userID != "" {
		perUser := s.queuedForUserLocked(j.userID)
		if perUser >= s.config.MaxQueueSizePerUser {
			return reject(CodeQueueFull, 250, "per-user queue full (%d/%d) for %s", perUser, s.config.MaxQueueSizePerUser, j.userID)
		}
	}

	if s.config.SupersedeQueuedByKey && j.supersedeKey != "" {
		s.supersedeLocked(j.supersedeKey, j.userID)
	}

	s.queues[j.lane] = append(s.queues[j.lane], j)
	return nil
}

// supersedeLocked cancels queued jobs matching key. Per §4.5, the
// specified behavior matches across all users; when StrictIsolation is
// enabled, matching is additionally scoped to userID.
func (s *Scheduler) supersedeLocked(key, userID string) {
	for lane, q := range s.queues {
		kept := q[:0]
		for _, existing := range q {
			matches := existing.supersedeKey == key
			if matches && s.config.StrictIsolation {
				matches = existing.userID == userID
			}
			if matches {
				existing.result <- jobResult{err: reject(CodeSuperseded, 0, "superseded by newer enqueue with key %q", key)}
				continue
			}
			kept = append(kept, existing)
		}
		s.queues[lane] = kept
	}
}

func (s *Scheduler) pruneStaleLocked() {
	if s.config.QueueStale <= 0 {
		return
	}
	cutoff := s.now().Add(-s.config.QueueStale)
	for lane, q := range s.queues {
		kept := q[:0]
		for _, existing := range q {
			if existing.enqueuedAt.Before(cutoff) {
				existing.result <- jobResult{err: reject(CodeQueueStale, 0, "job stale after %s", s.config.QueueStale)}
				continue
			}
			kept = append(kept, existing)
		}
		s.queues[lane] = kept
	}
}

func (s *Scheduler) totalQueuedLocked() int {
	total := 0
	for _, q := range s.queues {
		total += len(q)
	}
	return total
}

func (s *Scheduler) queuedForUserLocked(userID string) int {
	count := 0
	for _, q := range s.queues {
		for _, j := range q {
			if j.userID == userID {
				count++
			}
		}
	}
	return count
}

// dispatch advances the round-robin cursor, selecting eligible jobs
// until the global cap is hit or no lane has runnable work.
func (s *Scheduler) dispatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatchLocked()
}

func (s *Scheduler) dispatchLocked() {
	for s.inFlightGlobal < s.config.MaxInFlightGlobal {
		j := s.selectEligibleLocked()
		if j == nil {
			return
		}
		s.startLocked(j)
	}
}

// selectEligibleLocked scans the round-robin vector starting at the
// cursor; within each lane position it looks for the first FIFO job that
// doesn't violate per-user/per-conversation caps, skipping ineligible
// jobs without removing them (so FIFO order of *eligible* jobs holds).
func (s *Scheduler) selectEligibleLocked() *job {
	if len(s.rrVector) == 0 {
		return nil
	}
	for i := 0; i < len(s.rrVector); i++ {
		lane := s.rrVector[s.rrCursor]
		s.rrCursor = (s.rrCursor + 1) % len(s.rrVector)

		if j := s.popEligibleFromLane(lane); j != nil {
			return j
		}
	}
	// Round-robin pass found nothing; do one declared-order scan as a
	// fallback in case lane weights left some lane unvisited this cycle.
	for _, lane := range laneOrder {
		if j := s.popEligibleFromLane(lane); j != nil {
			return j
		}
	}
	return nil
}

func (s *Scheduler) popEligibleFromLane(lane string) *job {
	q := s.queues[lane]
	for idx, j := range q {
		if j.userID != "" && s.inFlightByUser[j.userID] >= s.config.MaxInFlightPerUser {
			continue
		}
		if j.conversationID != "" && s.inFlightByConversation[j.conversationID] >= s.config.MaxInFlightPerConversation {
			continue
		}
		s.queues[lane] = append(append([]*job(nil), q[:idx]...), q[idx+1:]...)
		return j
	}
	return nil
}

func (s *Scheduler) startLocked(j *job) {
	s.inFlightGlobal++
	if j.userID != "" {
		s.inFlightByUser[j.userID]++
	}
	if j.conversationID != "" {
		s.inFlightByConversation[j.conversationID]++
	}

	go func() {
		value, err := j.run(context.Background())

		s.mu.Lock()
		s.inFlightGlobal--
		if j.userID != "" {
			s.inFlightByUser[j.userID]--
			if s.inFlightByUser[j.userID] <= 0 {
				delete(s.inFlightByUser, j.userID)
			}
		}
		if j.conversationID != "" {
			s.inFlightByConversation[j.conversationID]--
			if s.inFlightByConversation[j.conversationID] <= 0 {
				delete(s.inFlightByConversation, j.conversationID)
			}
		}
		s.dispatchLocked()
		s.mu.Unlock()

		j.result <- jobResult{value: value, err: err}
	}()
}

// InFlight returns the current global inflight count (telemetry/tests).
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlightGlobal
}

// QueueDepth returns the number of queued jobs in lane.
func (s *Scheduler) QueueDepth(lane string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[lane])
}
