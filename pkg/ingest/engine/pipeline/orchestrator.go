// Package pipeline runs the micro-batch loop and owns its lifecycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/tigerroll/surfin-stream/pkg/ingest/core/application/port"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/domain/model"
	"github.com/tigerroll/surfin-stream/pkg/ingest/core/metrics"
	"github.com/tigerroll/surfin-stream/pkg/ingest/engine/checkpoint"
	"github.com/tigerroll/surfin-stream/pkg/ingest/engine/provision"
	"github.com/tigerroll/surfin-stream/pkg/ingest/engine/sink"
	"github.com/tigerroll/surfin-stream/pkg/ingest/engine/source"
	"github.com/tigerroll/surfin-stream/pkg/ingest/engine/transform"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/exception"
	"github.com/tigerroll/surfin-stream/pkg/ingest/support/util/logger"
)

const moduleName = "pipeline"

// ErrAborted is returned by Run after Abort abandoned the in-flight batch.
var ErrAborted = errors.New("pipeline aborted")

// Components are the collaborators of an Orchestrator.
type Components struct {
	Name        string
	// RunID identifies one run in logs and traces.
	RunID       string
	Schema      *model.Schema
	Bus         port.MessageBus
	Store       port.Store
	Provisioner *provision.Provisioner
	Reader      *source.Reader
	Stage       *transform.Stage
	Writer      *sink.Writer
	Coordinator *checkpoint.Coordinator
	Listeners   []port.PipelineListener
	Recorder    metrics.MetricRecorder
	Tracer      metrics.Tracer
}

// Orchestrator drives INITIALIZING -> PROVISIONING -> RUNNING -> (DRAINING | FAILED) -> STOPPED.
//
// Cancelling the context passed to Run is a graceful stop: the current window
// closes early and is committed and checkpointed before STOPPED. Abort is a
// forced stop that abandons the current batch; its records are read again on
// the next start.
type Orchestrator struct {
	c Components

	mu      sync.Mutex
	state   model.PipelineState
	abort   context.CancelFunc
	aborted bool
	stream  *source.Stream
}

// NewOrchestrator creates an Orchestrator in INITIALIZING.
func NewOrchestrator(c Components) *Orchestrator {
	return &Orchestrator{c: c, state: model.StateInitializing}
}

// State returns the current state.
func (o *Orchestrator) State() model.PipelineState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Abort cancels in-flight store and checkpoint work. It is safe to call at any time.
func (o *Orchestrator) Abort() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.aborted = true
	if o.abort != nil {
		o.abort()
	}
}

func (o *Orchestrator) isAborted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.aborted
}

func (o *Orchestrator) transition(ctx context.Context, next model.PipelineState, cause error) error {
	o.mu.Lock()
	prev := o.state
	if !prev.CanTransitionTo(next) {
		o.mu.Unlock()
		return exception.NewPipelineErrorf(moduleName, "illegal transition %s -> %s", prev, next)
	}
	o.state = next
	o.mu.Unlock()

	if cause != nil {
		logger.Errorf("Pipeline '%s': %s -> %s: %v", o.c.Name, prev, next, cause)
	} else {
		logger.Infof("Pipeline '%s': %s -> %s", o.c.Name, prev, next)
	}
	o.c.Recorder.RecordStateChange(ctx, o.c.Name, next)
	for _, l := range o.c.Listeners {
		l.OnStateChange(ctx, prev, next, cause)
	}
	return nil
}

// Run executes the pipeline until ctx is cancelled or a fatal error occurs.
// It returns nil after a graceful stop and the cause otherwise. Resources are
// released before Run returns. Run may be called once.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	hardCtx, cancelHard := context.WithCancel(context.WithoutCancel(ctx))
	loopCtx, cancelLoop := context.WithCancel(ctx)
	o.mu.Lock()
	if o.state != model.StateInitializing {
		o.mu.Unlock()
		cancelHard()
		cancelLoop()
		return exception.NewPipelineErrorf(moduleName, "pipeline '%s' already ran (state %s)", o.c.Name, o.state)
	}
	o.abort = func() {
		cancelHard()
		cancelLoop()
	}
	if o.aborted {
		o.abort()
	}
	o.mu.Unlock()
	defer cancelHard()
	defer cancelLoop()

	spanCtx, finish := o.c.Tracer.StartSpan(hardCtx, "pipeline.run", map[string]interface{}{"pipeline": o.c.Name, "run_id": o.c.RunID})
	defer finish()

	defer func() {
		if rerr := o.release(); rerr != nil {
			logger.Warnf("Pipeline '%s': releasing resources: %v", o.c.Name, rerr)
		}
		if err != nil {
			o.c.Tracer.RecordError(spanCtx, moduleName, err)
			_ = o.transition(spanCtx, model.StateFailed, err)
		}
		_ = o.transition(spanCtx, model.StateStopped, nil)
	}()

	resumeFrom, err := o.initialize(hardCtx)
	if err != nil {
		return o.interrupted(err)
	}
	if loopCtx.Err() != nil {
		return nil
	}

	_ = o.transition(spanCtx, model.StateProvisioning, nil)
	target, err := o.c.Provisioner.EnsureTarget(hardCtx, o.c.Schema)
	if err != nil {
		return o.interrupted(err)
	}
	if loopCtx.Err() != nil {
		return nil
	}

	_ = o.transition(spanCtx, model.StateRunning, nil)
	stream, err := o.c.Reader.OpenStream(hardCtx, resumeFrom)
	if err != nil {
		return o.interrupted(err)
	}
	o.mu.Lock()
	o.stream = stream
	o.mu.Unlock()

	return o.loop(loopCtx, hardCtx, spanCtx, stream, target)
}

// interrupted replaces the error of work cut short by Abort.
func (o *Orchestrator) interrupted(err error) error {
	if o.isAborted() {
		return ErrAborted
	}
	return err
}

// initialize connects the collaborators and loads the checkpoints.
func (o *Orchestrator) initialize(ctx context.Context) (model.PositionMap, error) {
	for _, c := range []interface{}{o.c.Bus, o.c.Store} {
		if err := connect(ctx, c); err != nil {
			return nil, err
		}
	}
	return o.c.Coordinator.Load(ctx)
}

func connect(ctx context.Context, c interface{}) error {
	conn, ok := c.(port.Connector)
	if !ok {
		return nil
	}
	if err := conn.Connect(ctx); err != nil {
		if _, ok := exception.AsPipelineError(err); ok {
			return err
		}
		return exception.NewConnectionError(moduleName, fmt.Sprintf("connect %T", c), err)
	}
	return nil
}

// Provision connects the store and ensures the target exists without opening
// the stream: INITIALIZING -> PROVISIONING -> STOPPED.
func (o *Orchestrator) Provision(ctx context.Context) (target model.ProvisionedTarget, err error) {
	o.mu.Lock()
	if o.state != model.StateInitializing {
		o.mu.Unlock()
		return target, exception.NewPipelineErrorf(moduleName, "pipeline '%s' already ran (state %s)", o.c.Name, o.state)
	}
	o.mu.Unlock()

	defer func() {
		if rerr := o.release(); rerr != nil {
			logger.Warnf("Pipeline '%s': releasing resources: %v", o.c.Name, rerr)
		}
		if err != nil {
			_ = o.transition(ctx, model.StateFailed, err)
		}
		_ = o.transition(ctx, model.StateStopped, nil)
	}()

	if err = connect(ctx, o.c.Store); err != nil {
		return target, err
	}
	_ = o.transition(ctx, model.StateProvisioning, nil)
	return o.c.Provisioner.EnsureTarget(ctx, o.c.Schema)
}

func (o *Orchestrator) loop(loopCtx, hardCtx, spanCtx context.Context, stream *source.Stream, target model.ProvisionedTarget) error {
	for {
		batch, err := o.c.Stage.Materialize(loopCtx, stream)
		if err != nil {
			return o.interrupted(err)
		}
		if o.isAborted() {
			return ErrAborted
		}

		draining := loopCtx.Err() != nil
		if draining && o.State() == model.StateRunning {
			_ = o.transition(spanCtx, model.StateDraining, nil)
		}

		if !batch.Empty() {
			if err := o.complete(hardCtx, batch, target); err != nil {
				return o.interrupted(err)
			}
		}
		if draining {
			logger.Infof("Pipeline '%s' drained after %s.", o.c.Name, batch)
			return nil
		}
	}
}

// complete commits batch and then advances its checkpoint candidate.
func (o *Orchestrator) complete(ctx context.Context, batch *model.Batch, target model.ProvisionedTarget) error {
	var result model.CommitResult
	if len(batch.Rows) > 0 {
		var err error
		result, err = o.c.Writer.Commit(ctx, batch, target)
		if err != nil {
			return err
		}
	}
	for _, l := range o.c.Listeners {
		l.AfterCommit(ctx, batch, result)
	}

	if err := o.c.Coordinator.AdvanceAll(ctx, batch.Checkpoint); err != nil {
		return err
	}
	positions := o.c.Coordinator.Current()
	for _, l := range o.c.Listeners {
		l.AfterCheckpoint(ctx, positions)
	}
	return nil
}

// release closes every owned resource and reports all failures together.
func (o *Orchestrator) release() error {
	var errs *multierror.Error
	o.mu.Lock()
	stream := o.stream
	o.stream = nil
	o.mu.Unlock()
	if stream != nil {
		errs = multierror.Append(errs, stream.Close())
	}
	if o.c.Bus != nil {
		errs = multierror.Append(errs, o.c.Bus.Close())
	}
	if o.c.Store != nil {
		errs = multierror.Append(errs, o.c.Store.Close())
	}
	if o.c.Coordinator != nil {
		errs = multierror.Append(errs, o.c.Coordinator.Close())
	}
	return errs.ErrorOrNil()
}
