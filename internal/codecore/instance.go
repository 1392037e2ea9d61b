package codecore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codecbridge/webcodecs/internal/backend"
	"github.com/codecbridge/webcodecs/internal/codecerr"
	"github.com/oklog/ulid/v2"
)

// OutputCallback receives each chunk/frame the instance emits, along with
// its per-output metadata (spec.md §4.6 output dispatcher).
type OutputCallback func(output any, metadata any)

// ErrorCallback receives asynchronous backend failures and reclamation
// notices (spec.md §7 Propagation).
type ErrorCallback func(err *codecerr.CodecError)

// DequeueCallback fires at most once per coalesced batch of queueSize
// decrements (spec.md §4.6).
type DequeueCallback func()

// ActivityCallback is invoked every time the instance emits an output, so
// the resource manager can record liveness (spec.md §4.7).
type ActivityCallback func()

// Options configures a new Instance. OnOutput and OnError are required
// (spec.md §6.1: "callbacks must both be present; type error otherwise").
type Options struct {
	ID           string
	Capabilities Capabilities
	Logger       *slog.Logger
	OnOutput     OutputCallback
	OnError      ErrorCallback
	OnDequeue    DequeueCallback
	OnActivity   ActivityCallback
	// GroupID opts an instance into a transcoding-pair protection group
	// for resource-manager reclamation (SPEC_FULL.md §12.3). Defaults to
	// the instance's own ID (a singleton group) when empty.
	GroupID string
	// Background marks the instance as background from construction
	// (SPEC_FULL.md §12.2); defaults to foreground.
	Background bool
}

// Instance is one codec instance: the state slot, both queues, the active
// configuration, pending flush waiters, and the worker that drives the
// Codec Backend (spec.md §3.1).
type Instance struct {
	id      string
	groupID string
	caps    Capabilities
	logger  *slog.Logger

	outputCB   OutputCallback
	errorCB    ErrorCallback
	dequeueCB  DequeueCallback
	activityCB ActivityCallback

	// mu guards every host-thread-only field below (spec.md §5).
	mu                    sync.Mutex
	state                 State
	closing               bool
	queueSize             int
	messageQueueBlocked   bool
	codecSaturated        bool
	active                ActiveState
	controlQueue          []ControlMessage
	pendingFlushes        map[string]*FlushWaiter
	dequeueEventScheduled bool
	epoch                 uint64
	be                    backend.Backend
	background            atomic.Bool
	lastActivity          atomic.Value // time.Time

	workQ  *workQueue
	taskCh chan func()

	unregister func() // resource-manager cleanup hook; nil if not registered

	workerDone chan struct{}
	taskDone   chan struct{}
}

// New constructs an Instance in the unconfigured state and starts its
// worker and task-dispatch goroutines.
func New(opts Options) (*Instance, error) {
	if opts.OnOutput == nil || opts.OnError == nil {
		return nil, codecerr.New(codecerr.KindType, opts.ID, "output and error callbacks are both required")
	}
	if opts.Capabilities == nil {
		return nil, codecerr.New(codecerr.KindType, opts.ID, "capabilities bundle is required")
	}
	id := opts.ID
	if id == "" {
		id = ulid.Make().String()
	}
	group := opts.GroupID
	if group == "" {
		group = id
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("instance_id", id), slog.String("kind", opts.Capabilities.Kind()))

	inst := &Instance{
		id:             id,
		groupID:        group,
		caps:           opts.Capabilities,
		logger:         logger,
		outputCB:       opts.OnOutput,
		errorCB:        opts.OnError,
		dequeueCB:      opts.OnDequeue,
		activityCB:     opts.OnActivity,
		state:          StateUnconfigured,
		pendingFlushes: make(map[string]*FlushWaiter),
		workQ:          newWorkQueue(),
		taskCh:         make(chan func(), 256),
		workerDone:     make(chan struct{}),
		taskDone:       make(chan struct{}),
	}
	inst.background.Store(opts.Background)

	go inst.runTaskLoop()
	go inst.runWorker()

	return inst, nil
}

// ID returns the instance's unique identifier (resource-manager key).
func (inst *Instance) ID() string { return inst.id }

// GroupID returns the transcoding-pair protection group this instance
// opted into (SPEC_FULL.md §12.3).
func (inst *Instance) GroupID() string { return inst.groupID }

// Kind returns the codec type name from the capability bundle.
func (inst *Instance) Kind() string { return inst.caps.Kind() }

// State returns the current lifecycle state.
func (inst *Instance) State() State {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.state
}

// StateIsClosed reports whether the instance has reached the closed state,
// for the resource manager's protection rule 4 without importing codecore's
// State type.
func (inst *Instance) StateIsClosed() bool {
	return inst.State() == StateClosed
}

// pidReporter is implemented by backends that run as a native OS process
// (ffmpegbackend.Backend); the resource manager's admin surface uses it to
// attach per-instance process stats without this package importing any
// concrete backend.
type pidReporter interface {
	Pid() (int, bool)
}

// BackendPID returns the OS process ID of the currently active backend, if
// one is configured and reports one (SPEC_FULL.md §12.5 admin process
// stats).
func (inst *Instance) BackendPID() (int, bool) {
	inst.mu.Lock()
	be := inst.be
	inst.mu.Unlock()

	reporter, ok := be.(pidReporter)
	if !ok {
		return 0, false
	}
	return reporter.Pid()
}

// QueueSize returns the number of inputs accepted but not yet dispatched
// to the backend worker.
func (inst *Instance) QueueSize() int {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.queueSize
}

// Saturated reports whether the codec backend is currently signaling
// backpressure (spec.md §5 "Backpressure protocol").
func (inst *Instance) Saturated() bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.codecSaturated
}

// SetBackground marks the instance foreground/background for resource
// manager protection rules (SPEC_FULL.md §12.2).
func (inst *Instance) SetBackground(bg bool) {
	inst.background.Store(bg)
}

// Background reports whether an embedder has marked this instance
// background.
func (inst *Instance) Background() bool {
	return inst.background.Load()
}

// invalidState builds the synchronous invalid-state error for API calls
// made in the wrong lifecycle state.
func (inst *Instance) invalidState(op string) error {
	return codecerr.New(codecerr.KindInvalidState, inst.id, fmt.Sprintf("%s: instance is %s", op, inst.state))
}

// Configure applies a new configuration (spec.md §4.2 configure rows).
func (inst *Instance) Configure(config any) error {
	if err := inst.caps.ValidateConfig(config); err != nil {
		return codecerr.New(codecerr.KindType, inst.id, err.Error())
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.state == StateClosed || inst.closing {
		return inst.invalidState("configure")
	}

	// Re-configuring resets the orientation lock; only video encoders use
	// it, everyone else ignores a nil active.Orientation. OutputConfig is
	// reset here too, before any later input is accepted.
	inst.active.Orientation = nil
	inst.active.OutputConfig = nil

	inst.state = StateConfigured
	inst.controlQueue = append(inst.controlQueue, ControlMessage{
		Kind:   ControlConfigure,
		Config: config,
	})
	inst.processControlQueueLocked()
	return nil
}

// Encode/Decode share this implementation: validate+clone happens inside
// Capabilities.Accept before queue_size is incremented (spec.md invariant
// 3, invariant 7).
func (inst *Instance) SubmitInput(input any, options any) error {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.state == StateClosed || inst.closing {
		return inst.invalidState("encode/decode")
	}
	if inst.state == StateUnconfigured {
		return inst.invalidState("encode/decode")
	}

	cloned, err := inst.caps.Accept(inst.id, &inst.active, input, options)
	if err != nil {
		return err
	}

	inst.queueSize++
	inst.controlQueue = append(inst.controlQueue, ControlMessage{
		Kind:    ControlInput,
		Input:   cloned,
		Options: options,
	})
	inst.processControlQueueLocked()
	return nil
}

// Flush returns a waiter that resolves once every queued input has been
// emitted (spec.md §4.5).
func (inst *Instance) Flush() (*FlushWaiter, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.state != StateConfigured {
		return nil, inst.invalidState("flush")
	}

	waiterID := ulid.Make().String()
	waiter := newFlushWaiter(waiterID)
	inst.pendingFlushes[waiterID] = waiter

	inst.controlQueue = append(inst.controlQueue, ControlMessage{
		Kind:     ControlFlush,
		WaiterID: waiterID,
	})
	inst.processControlQueueLocked()
	return waiter, nil
}

// Reset returns the instance to unconfigured, tearing down the backend and
// rejecting pending flushes (spec.md §4.5).
func (inst *Instance) Reset() error {
	inst.mu.Lock()
	if inst.state == StateClosed {
		inst.mu.Unlock()
		return inst.invalidState("reset")
	}
	released := inst.resetLocked()
	inst.state = StateUnconfigured
	inst.mu.Unlock()

	if released != nil {
		go func() { _ = released.Close() }()
	}
	return nil
}

// Close transitions to closed irreversibly. Idempotent: a second call is a
// silent no-op (spec.md §6.1).
func (inst *Instance) Close() error {
	return inst.closeWithError(nil)
}

// Reclaim closes the instance on the resource manager's behalf, dispatching
// a quota-exceeded error to the error callback before the state transitions
// to closed (spec.md §4.7).
func (inst *Instance) Reclaim() error {
	return inst.closeWithError(codecerr.New(codecerr.KindQuotaExceeded, inst.id, "instance reclaimed by the resource manager"))
}

// LastActivity returns the time of the instance's most recent emitted
// output, or the zero Time if it has never emitted one.
func (inst *Instance) LastActivity() time.Time {
	v := inst.lastActivity.Load()
	if v == nil {
		return time.Time{}
	}
	return v.(time.Time)
}

// closeWithError is the internal close-on-error path: the error callback
// is invoked with kind before the state transitions to closed (spec.md
// §4.5, §7 Propagation).
func (inst *Instance) closeWithError(failure *codecerr.CodecError) error {
	inst.mu.Lock()
	if inst.state == StateClosed || inst.closing {
		inst.mu.Unlock()
		return nil
	}
	inst.closing = true
	released := inst.resetLocked()
	inst.mu.Unlock()

	if failure != nil {
		inst.errorCB(failure)
	}

	inst.mu.Lock()
	inst.state = StateClosed
	inst.closing = false
	inst.mu.Unlock()

	if released != nil {
		go func() { _ = released.Close() }()
	}
	if inst.unregister != nil {
		inst.unregister()
	}

	inst.workQ.close()
	close(inst.taskCh)
	return nil
}

// resetLocked performs the synchronous portion of reset/close (spec.md
// §4.5 steps 2-6). Caller holds inst.mu. Returns the backend to release
// (torn down outside the lock, since Backend.Close may block).
func (inst *Instance) resetLocked() backend.Backend {
	inst.epoch++
	inst.controlQueue = nil
	inst.workQ.drain()

	abortErr := codecerr.New(codecerr.KindAbort, inst.id, "flush aborted by reset/close")
	for id, w := range inst.pendingFlushes {
		w.reject(abortErr)
		delete(inst.pendingFlushes, id)
	}

	if inst.queueSize > 0 {
		inst.queueSize = 0
		inst.scheduleDequeueLocked()
	}

	inst.active = ActiveState{}
	inst.codecSaturated = false
	inst.messageQueueBlocked = false

	released := inst.be
	inst.be = nil
	return released
}

// BindResourceManager lets a resource manager attach its unregister hook;
// called once at registration time.
func (inst *Instance) BindResourceManager(unregister func()) {
	inst.mu.Lock()
	inst.unregister = unregister
	inst.mu.Unlock()
}

// processControlQueueLocked runs spec.md §4.1's process-queue algorithm.
// Caller holds inst.mu.
func (inst *Instance) processControlQueueLocked() {
	for !inst.messageQueueBlocked && len(inst.controlQueue) > 0 {
		msg := inst.controlQueue[0]
		if !inst.runLocked(msg) {
			return // NotProcessed: leave at head, stop processing
		}
		inst.controlQueue = inst.controlQueue[1:]
	}
}

// runLocked executes one control message, returning true (Processed) or
// false (NotProcessed). Caller holds inst.mu.
func (inst *Instance) runLocked(msg ControlMessage) bool {
	switch msg.Kind {
	case ControlConfigure:
		inst.messageQueueBlocked = true
		inst.epoch++ // a fresh backend invalidates any in-flight work from a previous config
		epoch := inst.epoch
		inst.workQ.push(WorkItem{Kind: WorkConfigureBackend, Config: msg.Config, Epoch: epoch})
		return true

	case ControlInput:
		if inst.codecSaturated {
			return false
		}
		inst.queueSize-- // decrement at dispatch, not at output (invariant 3)
		if inst.queueSize < 0 {
			inst.queueSize = 0
		}
		inst.scheduleDequeueLocked()

		if inst.be != nil && inst.be.WouldSaturate(len(inst.controlQueue)) {
			inst.codecSaturated = true
		}

		epoch := inst.epoch
		inst.workQ.push(WorkItem{Kind: WorkSubmitInput, Input: msg.Input, Options: msg.Options, Epoch: epoch})
		return true

	case ControlFlush:
		epoch := inst.epoch
		inst.workQ.push(WorkItem{Kind: WorkDrain, WaiterID: msg.WaiterID, Epoch: epoch})
		return true

	default:
		return true
	}
}

// scheduleDequeueLocked coalesces queueSize-decrement notifications into at
// most one task per host turn (spec.md §4.6). Caller holds inst.mu.
func (inst *Instance) scheduleDequeueLocked() {
	if inst.dequeueEventScheduled || inst.dequeueCB == nil {
		return
	}
	inst.dequeueEventScheduled = true
	inst.postTask(func() {
		inst.mu.Lock()
		inst.dequeueEventScheduled = false
		cb := inst.dequeueCB
		inst.mu.Unlock()
		if cb != nil {
			cb()
		}
	})
}

// postTask enqueues a host-thread task posted from the worker (or
// scheduled by the host itself), preserving FIFO order per instance
// (spec.md §5 "task source").
func (inst *Instance) postTask(fn func()) {
	defer func() {
		// The channel is closed once the instance has fully closed; a
		// straggling post from a worker goroutine winding down loses the
		// race harmlessly.
		_ = recover()
	}()
	inst.taskCh <- fn
}

// runTaskLoop is the per-instance task source: a dedicated goroutine that
// executes worker->host tasks strictly in post order (spec.md §5).
func (inst *Instance) runTaskLoop() {
	defer close(inst.taskDone)
	for fn := range inst.taskCh {
		fn()
	}
}

// runWorker is the dedicated per-instance worker thread that executes work
// items strictly serially against the backend (spec.md §3.3, §5, invariant
// 8).
func (inst *Instance) runWorker() {
	defer close(inst.workerDone)
	for {
		item, ok := inst.workQ.pop()
		if !ok {
			return
		}
		switch item.Kind {
		case WorkConfigureBackend:
			inst.workerConfigureBackend(item)
		case WorkSubmitInput:
			inst.workerSubmitInput(item)
		case WorkDrain:
			inst.workerDrain(item)
		case WorkShutdown:
			return
		}
	}
}

const backendCallTimeout = 30 * time.Second

func (inst *Instance) workerConfigureBackend(item WorkItem) {
	ctx, cancel := context.WithTimeout(context.Background(), backendCallTimeout)
	defer cancel()

	be, err := inst.caps.NewBackend(inst.logger, item.Config)
	if err == nil {
		err = be.Configure(ctx, item.Config)
	}
	epoch := item.Epoch
	config := item.Config
	inst.postTask(func() { inst.hostConfigureComplete(epoch, config, be, err) })
}

func (inst *Instance) hostConfigureComplete(epoch uint64, config any, be backend.Backend, err error) {
	inst.mu.Lock()
	if epoch != inst.epoch {
		inst.mu.Unlock()
		if be != nil {
			go func() { _ = be.Close() }()
		}
		return
	}
	inst.messageQueueBlocked = false
	if err != nil {
		inst.mu.Unlock()
		inst.closeWithError(codecerr.Wrap(codecerr.KindNotSupported, inst.id, "backend configure failed", err))
		return
	}
	inst.active.Config = config
	inst.be = be
	inst.processControlQueueLocked()
	inst.mu.Unlock()
}

func (inst *Instance) workerSubmitInput(item WorkItem) {
	ctx, cancel := context.WithTimeout(context.Background(), backendCallTimeout)
	defer cancel()

	inst.mu.Lock()
	be := inst.be
	inst.mu.Unlock()
	if be == nil {
		return // instance was reset/closed between dispatch and execution
	}

	err := be.SubmitInput(ctx, item.Input, item.Options)
	for i := 0; err == backend.ErrSaturated && i < 8; i++ {
		inst.drainOutputs(ctx, be, item.Epoch)
		err = be.SubmitInput(ctx, item.Input, item.Options)
	}
	if err != nil && err != backend.ErrSaturated {
		epoch := item.Epoch
		inst.postTask(func() { inst.hostBackendFailed(epoch, err) })
		return
	}

	inst.drainOutputs(ctx, be, item.Epoch)

	if !be.WouldSaturate(0) {
		epoch := item.Epoch
		inst.postTask(func() { inst.hostClearSaturation(epoch) })
	}
}

// drainOutputs polls the backend until it has nothing ready and schedules
// one EmitOutput task per output, preserving per-batch ordering (spec.md
// §5 "within one input batch, all outputs it produced are scheduled to the
// host before any subsequent batch's outputs").
func (inst *Instance) drainOutputs(ctx context.Context, be backend.Backend, epoch uint64) {
	for {
		out, err := be.PollOutput(ctx)
		if err != nil {
			inst.postTask(func() { inst.hostBackendFailed(epoch, err) })
			return
		}
		if out == nil {
			return
		}
		output := *out
		inst.postTask(func() { inst.hostEmitOutput(epoch, output) })
	}
}

func (inst *Instance) hostEmitOutput(epoch uint64, out backend.Output) {
	inst.mu.Lock()
	if epoch != inst.epoch {
		inst.mu.Unlock()
		return
	}
	output, metadata := inst.caps.DeriveOutput(&inst.active, out)
	cb := inst.outputCB
	activity := inst.activityCB
	inst.mu.Unlock()

	inst.lastActivity.Store(time.Now())
	cb(output, metadata)
	if activity != nil {
		activity()
	}
}

func (inst *Instance) hostClearSaturation(epoch uint64) {
	inst.mu.Lock()
	if epoch != inst.epoch {
		inst.mu.Unlock()
		return
	}
	inst.codecSaturated = false
	inst.processControlQueueLocked()
	inst.mu.Unlock()
}

func (inst *Instance) hostBackendFailed(epoch uint64, cause error) {
	inst.mu.Lock()
	if epoch != inst.epoch {
		inst.mu.Unlock()
		return
	}
	inst.mu.Unlock()
	inst.closeWithError(codecerr.Wrap(inst.caps.FatalErrorKind(), inst.id, "backend reported a fatal error", cause))
}

func (inst *Instance) workerDrain(item WorkItem) {
	ctx, cancel := context.WithTimeout(context.Background(), backendCallTimeout)
	defer cancel()

	inst.mu.Lock()
	be := inst.be
	inst.mu.Unlock()

	epoch := item.Epoch
	waiterID := item.WaiterID

	if be == nil {
		inst.postTask(func() { inst.hostResolveFlush(epoch, waiterID, nil) })
		return
	}

	if err := be.SignalEOF(ctx); err != nil {
		inst.postTask(func() { inst.hostResolveFlush(epoch, waiterID, err) })
		return
	}
	inst.drainOutputs(ctx, be, epoch)
	inst.postTask(func() { inst.hostResolveFlush(epoch, waiterID, nil) })
}

func (inst *Instance) hostResolveFlush(epoch uint64, waiterID string, drainErr error) {
	inst.mu.Lock()
	if epoch != inst.epoch {
		inst.mu.Unlock()
		return
	}
	waiter, ok := inst.pendingFlushes[waiterID]
	if ok {
		delete(inst.pendingFlushes, waiterID)
	}
	fatalKind := inst.caps.FatalErrorKind()
	inst.mu.Unlock()

	if !ok {
		return // already rejected by a concurrent reset/close
	}
	if drainErr != nil {
		waiter.reject(codecerr.Wrap(fatalKind, inst.id, "drain failed", drainErr))
		inst.closeWithError(codecerr.Wrap(fatalKind, inst.id, "backend reported a fatal error during flush", drainErr))
		return
	}
	waiter.resolve()
}
