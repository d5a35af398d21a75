// Package cron runs chains of tasks on a schedule.
//
// A chain runs its tasks in order and stops at the first failure; tasks of a
// chain pass results to each other through SharedData. mongoconfigs uses a
// chain for the periodic full reload: reload everything, then report the ids
// that failed. Every process runs its own schedule, so the chain publishes
// nothing.
package cron

import (
	"context"

	"github.com/dailyyoga/mongoconfigs/logger"
)

// Task is one step of a chain
type Task interface {
	// Name identifies the task in logs
	Name() string
	// Run executes the task; ctx carries the chain's SharedData
	Run(ctx context.Context) error
}

// TaskFunc adapts fn to a Task called name
func TaskFunc(name string, fn func(ctx context.Context) error) Task {
	return &wrappedTask{name: name, exec: fn}
}

// Chain is a named sequence of tasks run on Spec
type Chain struct {
	Name  string
	Spec  string
	Tasks []Task
}

// Cron schedules chains
type Cron interface {
	// Start begins the scheduler; chains run with a context derived from ctx
	Start(ctx context.Context)
	// Close stops the scheduler, cancels running chains and waits for them
	Close()
	// AddTasks schedules tasks as the chain name on spec.
	// spec has six fields, seconds first, or is a descriptor such as "@every 1m".
	AddTasks(name string, spec string, tasks ...Task) error
	// AddChain is alias for AddTasks
	AddChain(chain Chain) error
	// Run executes the chain name now, outside its schedule, and returns the first task error
	Run(ctx context.Context, name string) error
}

// NewCron creates a scheduler. Every task is wrapped with panic recovery,
// logging and then mws, in that order.
func NewCron(log logger.Logger, mws ...Middleware) Cron {
	log = logger.Component(log, "cron")
	defaultMws := []Middleware{
		recoveryMiddleware(log),
		loggingMiddleware(log),
	}
	return newCronManager(log, append(defaultMws, mws...)...)
}
