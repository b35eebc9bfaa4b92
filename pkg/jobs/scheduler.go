package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs named tasks on cron specifications.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]cron.EntryID
}

// NewScheduler builds a scheduler. Specs accept an optional seconds field as
// well as descriptors such as "@every 15m".
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID),
	}
}

// Register adds a task. Registering the same name twice replaces the task.
func (s *Scheduler) Register(name, spec string, task func(context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, exists := s.entries[name]; exists {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
	id, err := s.cron.AddFunc(spec, func() {
		if err := task(s.ctx); err != nil {
			s.logger.Error("scheduled task failed", zap.String("task", name), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	s.entries[name] = id
	s.logger.Info("scheduled task registered", zap.String("task", name), zap.String("spec", spec))
	return nil
}

// Tasks lists registered task names.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling, cancels running tasks' context and waits for them.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}
