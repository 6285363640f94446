package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is a unit of periodic maintenance work.
type Job func(ctx context.Context) error

// Scheduler runs maintenance jobs on cron schedules
type Scheduler struct {
	cron    *cron.Cron
	log     *logrus.Logger
	timeout time.Duration
}

// New creates a scheduler; each job run is bounded by timeout.
func New(log *logrus.Logger, timeout time.Duration) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
		log:     log,
		timeout: timeout,
	}
}

// Add registers job under name with a cron spec such as "@every 1m".
func (s *Scheduler) Add(spec, name string, job Job) (cron.EntryID, error) {
	id, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return 0, fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	return id, nil
}

func (s *Scheduler) run(name string, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	start := time.Now()
	if err := job(ctx); err != nil {
		s.log.WithFields(logrus.Fields{"job": name}).Warnf("Scheduled job failed: %v", err)
		return
	}
	s.log.WithFields(logrus.Fields{"job": name, "duration_ms": time.Since(start).Milliseconds()}).Debug("Scheduled job completed")
}

// RunNow executes the job behind id synchronously.
func (s *Scheduler) RunNow(id cron.EntryID) {
	if e := s.cron.Entry(id); e.Valid() {
		e.WrappedJob.Run()
	}
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Infof("Scheduler started with %d jobs", len(s.cron.Entries()))
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
