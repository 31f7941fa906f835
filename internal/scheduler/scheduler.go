package scheduler

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Job is a named piece of periodic maintenance.
type Job struct {
	Name       string
	Every      time.Duration
	RunAtStart bool
	Run        func(ctx context.Context) error
}

type entry struct {
	job     Job
	lastRun time.Time
}

// Scheduler runs registered jobs one at a time on a fixed tick.
type Scheduler struct {
	logger     *logrus.Logger
	resolution time.Duration
	entries    []*entry
	stopChan   chan struct{}
	wg         sync.WaitGroup
	jobMutex   sync.Mutex // Ensures sequential job execution
	startupRun atomic.Bool
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewScheduler creates a scheduler that checks for due jobs every minute.
func NewScheduler(logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
		logger.SetLevel(logrus.InfoLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:     logger,
		resolution: time.Minute,
		stopChan:   make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Add registers a job. It must be called before Start.
func (s *Scheduler) Add(job Job) {
	s.entries = append(s.entries, &entry{job: job})
}

// Start begins the scheduled tasks
func (s *Scheduler) Start() {
	s.startupRun.Store(true)
	s.wg.Add(2)
	go s.runStartupJobs()
	go s.runScheduler()
}

func (s *Scheduler) runStartupJobs() {
	defer s.wg.Done()
	defer s.startupRun.Store(false)

	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()

	now := time.Now()
	for _, e := range s.entries {
		if e.job.RunAtStart {
			s.run(e, now)
		} else {
			e.lastRun = now
		}
	}
}

func (s *Scheduler) runScheduler() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case t := <-ticker.C:
			s.executeScheduledJobs(t)
		}
	}
}

// executeScheduledJobs runs every job whose interval has elapsed at t.
func (s *Scheduler) executeScheduledJobs(t time.Time) {
	if s.startupRun.Load() {
		s.logger.Debug("Skipping scheduled jobs while startup is in progress")
		return
	}

	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()

	for _, e := range s.entries {
		if e.job.Every <= 0 || t.Sub(e.lastRun) < e.job.Every {
			continue
		}
		if s.ctx.Err() != nil {
			return
		}
		s.run(e, t)
	}
}

func (s *Scheduler) run(e *entry, t time.Time) {
	e.lastRun = t
	start := time.Now()
	log := s.logger.WithField("job", e.job.Name)

	if err := e.job.Run(s.ctx); err != nil {
		log.WithError(err).Error("Scheduled job failed")
		return
	}
	log.WithField("duration", time.Since(start).String()).Debug("Scheduled job completed")
}

// Stop cancels running jobs and waits for the scheduler to exit.
func (s *Scheduler) Stop() {
	s.cancel()
	close(s.stopChan)
	s.wg.Wait()
}
