package cron

import (
	"context"
	"fmt"
	"sync"

	"github.com/dailyyoga/mongoconfigs/logger"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// chainJob runs the tasks of a chain in order
type chainJob struct {
	name   string
	tasks  []Task
	logger logger.Logger
	base   func() context.Context
}

// Run implements cron.Job
func (j *chainJob) Run() {
	_ = j.run(j.base())
}

func (j *chainJob) run(ctx context.Context) error {
	shared := &SharedData{}
	ctx = context.WithValue(ctx, sharedDataKey, shared)

	j.logger.Info("chain job started", zap.String("chain_name", j.name))

	for _, task := range j.tasks {
		if err := ctx.Err(); err != nil {
			j.logger.Warn("chain job cancelled",
				zap.String("chain_name", j.name),
				zap.String("task_name", task.Name()),
			)
			return err
		}
		if err := task.Run(ctx); err != nil {
			j.logger.Error("chain job aborted due to task failure",
				zap.String("chain_name", j.name),
				zap.String("task_name", task.Name()),
				zap.Error(err),
			)
			return err
		}
	}

	j.logger.Info("chain job completed", zap.String("chain_name", j.name))
	return nil
}

// cronManager is the default implementation of the Cron interface
type cronManager struct {
	cron        *cron.Cron
	middlewares []Middleware
	logger      logger.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	jobs   map[string]*chainJob
}

func newCronManager(log logger.Logger, mws ...Middleware) *cronManager {
	cl := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())
	return &cronManager{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			// a reload that outlasts its interval must not pile up behind itself
			cron.WithChain(cron.SkipIfStillRunning(cl)),
		),
		middlewares: mws,
		logger:      log,
		ctx:         ctx,
		cancel:      cancel,
		jobs:        make(map[string]*chainJob),
	}
}

func (m *cronManager) baseContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}

// Start begins the cron scheduler
func (m *cronManager) Start(ctx context.Context) {
	m.mu.Lock()
	m.cancel()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.cron.Start()
	m.logger.Info("cron started", zap.Int("chains", len(m.cron.Entries())))
}

// Close stops the cron scheduler and waits for running jobs to complete
func (m *cronManager) Close() {
	m.mu.Lock()
	m.cancel()
	m.mu.Unlock()

	ctx := m.cron.Stop()
	<-ctx.Done()
	m.logger.Info("cron stopped")
}

func (m *cronManager) AddTasks(name, spec string, tasks ...Task) error {
	if len(tasks) == 0 {
		return ErrNoTasks
	}

	wrappedTasks := make([]Task, len(tasks))
	for i, task := range tasks {
		wrapTask := &wrappedTask{
			name: fmt.Sprintf("%s:%s", name, task.Name()),
			exec: task.Run,
		}
		wrappedTasks[i] = applyMiddlewares(wrapTask, m.middlewares...)
	}

	job := &chainJob{
		name:   name,
		tasks:  wrappedTasks,
		logger: m.logger,
		base:   m.baseContext,
	}

	if _, err := m.cron.AddJob(spec, job); err != nil {
		return ErrInvalidSpec(name, spec, err)
	}

	m.mu.Lock()
	m.jobs[name] = job
	m.mu.Unlock()

	m.logger.Info("chain added",
		zap.String("chain_name", name),
		zap.String("spec", spec),
		zap.Int("task_count", len(tasks)),
	)
	return nil
}

func (m *cronManager) AddChain(chain Chain) error {
	return m.AddTasks(chain.Name, chain.Spec, chain.Tasks...)
}

func (m *cronManager) Run(ctx context.Context, name string) error {
	m.mu.Lock()
	job, ok := m.jobs[name]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownChain(name)
	}
	return job.run(ctx)
}
