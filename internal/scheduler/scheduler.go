package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a named periodic task.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler runs jobs on cron specs. A job never overlaps with itself.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	jobs   []Job
	log    *zap.SugaredLogger
}

func New(loc *time.Location, log *zap.SugaredLogger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
}

// AddJob registers fn under name. An empty spec disables the job.
func (s *Scheduler) AddJob(name, spec string, fn func(ctx context.Context) error) {
	if spec == "" {
		s.log.Infof("⏸️ Job %s disabled (empty schedule)", name)
		return
	}
	s.jobs = append(s.jobs, Job{Name: name, Spec: spec, Run: fn})
}

func (s *Scheduler) Start() error {
	if len(s.jobs) == 0 {
		s.log.Warn("⚠️ No jobs registered, scheduler will not start")
		return nil
	}

	for _, job := range s.jobs {
		if _, err := s.cron.AddFunc(job.Spec, s.wrap(job)); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Spec, err)
		}
		s.log.Infof("📅 Scheduled %s at %q", job.Name, job.Spec)
	}

	s.cron.Start()
	return nil
}

// RunNow runs the named job synchronously, outside the schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	for _, job := range s.jobs {
		if job.Name == name {
			return job.Run(ctx)
		}
	}
	return fmt.Errorf("unknown job %q", name)
}

func (s *Scheduler) wrap(job Job) func() {
	return func() {
		started := time.Now()
		if err := job.Run(s.ctx); err != nil {
			s.log.Errorf("❌ Job %s failed: %v", job.Name, err)
			return
		}
		s.log.Debugf("Job %s finished in %s", job.Name, time.Since(started))
	}
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.log.Info("📅 Scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	return s.cron != nil && len(s.cron.Entries()) > 0
}
