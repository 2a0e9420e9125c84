// Package poller ticks ScheduleGate for every active mission on a
// robfig/cron heartbeat and feeds due runs into the RequestScheduler.
package poller

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"novacore/internal/app/executor"
	"novacore/internal/app/scheduler"
	"novacore/internal/app/schedulegate"
	"novacore/internal/domain/mission"
	"novacore/internal/infra/missionstore"
	"novacore/internal/logging"
)

// UserLister supplies the set of user IDs whose missions should be
// considered on every tick.
type UserLister func() []string

// Poller owns a cron heartbeat that scans every listed user's missions,
// asks ScheduleGate whether each is due, and enqueues due runs onto the
// Scheduler for execution.
type Poller struct {
	cron      *cron.Cron
	store     *missionstore.Store
	scheduler *scheduler.Scheduler
	executor  *executor.Executor
	users     UserLister
	logger    logging.Logger
	now       func() time.Time
	entryID   cron.EntryID
}

// New builds a Poller. The cron spec defaults to once per minute, the
// finest granularity ScheduleGate's daily/weekly/interval modes need.
func New(store *missionstore.Store, sched *scheduler.Scheduler, exec *executor.Executor, users UserLister, logger logging.Logger) *Poller {
	return &Poller{
		cron:      cron.New(),
		store:     store,
		scheduler: sched,
		executor:  exec,
		users:     users,
		logger:    logging.OrNop(logger),
		now:       time.Now,
	}
}

// Start registers the per-minute tick and starts the cron scheduler.
func (p *Poller) Start() error {
	id, err := p.cron.AddFunc("* * * * *", p.tick)
	if err != nil {
		return err
	}
	p.entryID = id
	p.cron.Start()
	return nil
}

// Stop halts the cron scheduler and waits for any in-flight tick.
func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
}

func (p *Poller) tick() {
	now := p.now()
	for _, userID := range p.users() {
		missions, err := p.store.LoadMissions(userID)
		if err != nil {
			p.logger.Warn("poller: failed to load missions for %s: %v", userID, err)
			continue
		}
		for _, m := range missions {
			p.considerMission(m, userID, now)
		}
	}
}

func (p *Poller) considerMission(m mission.Mission, userID string, now time.Time) {
	if m.Status != mission.StatusActive {
		return
	}
	if _, ok := m.ScheduleTrigger(); !ok {
		return
	}
	decision := schedulegate.Check(&m, now)
	if !decision.Due {
		return
	}

	mCopy := m
	_, err := p.scheduler.Enqueue(context.Background(), scheduler.EnqueueParams{
		Lane:           scheduler.LaneBackground,
		UserID:         userID,
		ConversationID: m.ID,
		SupersedeKey:   "mission:" + m.ID,
		Run: func(ctx context.Context) (any, error) {
			result := p.executor.ExecuteMission(ctx, executor.Input{
				Mission:       &mCopy,
				Source:        mission.SourceScheduler,
				Now:           now,
				UserContextID: userID,
			})
			return result, nil
		},
	})
	if err != nil {
		p.logger.Warn("poller: mission %s not enqueued: %v", m.ID, err)
	}
}
