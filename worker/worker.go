// Package worker runs orchestrations and activities against a backend.
package worker

import (
	"context"

	"github.com/benbjohnson/clock"

	"github.com/corvid-labs/durable/backend"
	internal "github.com/corvid-labs/durable/internal/worker"
	"github.com/corvid-labs/durable/registry"
)

type Worker struct {
	backend backend.Backend

	registry *registry.Registry

	workers []worker
}

type worker interface {
	Start(context.Context) error
	WaitForCompletion() error
}

// New creates a worker that processes both orchestration and activity tasks.
func New(b backend.Backend, options *Options) *Worker {
	if options == nil {
		options = &DefaultOptions
	}

	reg := registry.New()
	cl := clock.New()

	return &Worker{
		backend:  b,
		registry: reg,
		workers: []worker{
			internal.NewOrchestrationWorker(b, reg, cl, options.orchestrationWorkerOptions()),
			internal.NewActivityWorker(b, reg, cl, options.activityWorkerOptions()),
		},
	}
}

// RegisterOrchestration registers an orchestration function. The name under
// which it is registered has to match the name used when starting instances.
func (w *Worker) RegisterOrchestration(o registry.Orchestration, opts ...registry.RegisterOption) error {
	return w.registry.RegisterOrchestration(o, opts...)
}

// RegisterActivity registers an activity function or a struct whose methods
// are activities.
func (w *Worker) RegisterActivity(a registry.Activity, opts ...registry.RegisterOption) error {
	return w.registry.RegisterActivity(a, opts...)
}

// Start starts polling for tasks. To stop the worker, cancel the given
// context; tasks already claimed run to completion.
func (w *Worker) Start(ctx context.Context) error {
	for _, worker := range w.workers {
		if err := worker.Start(ctx); err != nil {
			return err
		}
	}

	return nil
}

// WaitForCompletion blocks until all in-flight tasks have finished after the
// start context was canceled.
func (w *Worker) WaitForCompletion() error {
	for _, worker := range w.workers {
		if err := worker.WaitForCompletion(); err != nil {
			return err
		}
	}

	return nil
}
