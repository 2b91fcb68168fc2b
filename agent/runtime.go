package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/GoCodeAlone/pawl/comms"
	"github.com/GoCodeAlone/pawl/memory"
	"github.com/GoCodeAlone/pawl/provider"
	"github.com/GoCodeAlone/pawl/task"
)

// minPollInterval bounds how often an empty queue is re-checked.
const minPollInterval = 10 * time.Millisecond

// RuntimeConfig holds everything a Runtime needs for one run.
type RuntimeConfig struct {
	Objective string
	FirstTask string

	// Iterations is the number of tasks to execute. It must be positive.
	Iterations int
	// Delay is the pause after every iteration and between polls of an
	// empty queue.
	Delay time.Duration
	// IdlePolls is how many consecutive empty polls end the run. Zero
	// waits for new tasks until the context is cancelled.
	IdlePolls int

	Execution      *ExecutionAgent
	Creation       *CreationAgent
	Prioritization *PrioritizationAgent
	Embedder       provider.Embedder
	Store          memory.Store

	Journal task.Journal // optional
	Bus     comms.Bus    // optional
	Logger  *slog.Logger // nil uses slog.Default()
	RunID   string       // generated when empty
}

func (c RuntimeConfig) validate() error {
	var errs []error
	if strings.TrimSpace(c.Objective) == "" {
		errs = append(errs, errors.New("objective is required"))
	}
	if strings.TrimSpace(c.FirstTask) == "" {
		errs = append(errs, errors.New("first task is required"))
	}
	if c.Iterations <= 0 {
		errs = append(errs, fmt.Errorf("iterations must be positive, got %d", c.Iterations))
	}
	if c.Execution == nil || c.Creation == nil || c.Prioritization == nil {
		errs = append(errs, errors.New("execution, creation and prioritization agents are required"))
	}
	if c.Embedder == nil || c.Store == nil {
		errs = append(errs, errors.New("embedder and memory store are required"))
	}
	return errors.Join(errs...)
}

// Runtime drives the task loop: pop a task, execute it, store the result,
// create follow-up tasks and reprioritize, until the iteration budget is
// spent. The queue is owned by the goroutine calling Run; other goroutines
// observe it through Info and feed it through AddTask.
type Runtime struct {
	mu        sync.RWMutex
	cfg       RuntimeConfig
	logger    *slog.Logger
	status    Status
	runID     string
	startedAt time.Time
	remaining int
	executed  int
	current   *task.Task
	queueSnap []task.Task
	lastErr   string

	inbox  chan string
	cancel context.CancelFunc

	// loop goroutine only
	queue  *task.Queue
	nextID int
}

// NewRuntime creates a runtime in the idle state.
func NewRuntime(cfg RuntimeConfig) *Runtime {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		cfg:    cfg,
		logger: logger,
		status: StatusIdle,
		inbox:  make(chan string, 64),
	}
}

// Info returns a snapshot of the loop state. Safe for concurrent use.
func (r *Runtime) Info() Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info := Info{
		RunID:     r.runID,
		Objective: r.cfg.Objective,
		Status:    r.status,
		Remaining: r.remaining,
		Executed:  r.executed,
		Queue:     make([]task.Task, len(r.queueSnap)),
		StartedAt: r.startedAt,
		Error:     r.lastErr,
	}
	copy(info.Queue, r.queueSnap)
	if r.current != nil {
		cur := *r.current
		info.Current = &cur
	}
	return info
}

// Stop cancels a running loop. Run returns once the in-flight step
// observes the cancellation.
func (r *Runtime) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

// AddTask hands a task to the running loop. It is appended to the queue at
// the start of the next iteration.
func (r *Runtime) AddTask(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("task name is required")
	}
	r.mu.RLock()
	status := r.status
	r.mu.RUnlock()
	if status != StatusRunning && status != StatusDraining {
		return fmt.Errorf("loop is not running (status=%s)", status)
	}
	select {
	case r.inbox <- name:
		return nil
	default:
		return errors.New("task inbox full")
	}
}

// Run executes the loop until the budget is spent, the queue stays empty
// for IdlePolls polls, or ctx is cancelled. It returns the first agent
// error, or the context error when cancellation interrupted a task.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.cfg.validate(); err != nil {
		return fmt.Errorf("runtime config: %w", err)
	}

	r.mu.Lock()
	if r.status == StatusRunning || r.status == StatusDraining {
		r.mu.Unlock()
		return fmt.Errorf("loop %s already running", r.runID)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.cancel = cancel
	r.runID = r.cfg.RunID
	if r.runID == "" {
		r.runID = uuid.NewString()
	}
	r.status = StatusRunning
	r.startedAt = time.Now()
	r.remaining = r.cfg.Iterations
	r.executed = 0
	r.current = nil
	r.lastErr = ""
	r.queue = task.NewQueue(task.Task{ID: 1, Name: r.cfg.FirstTask})
	r.nextID = 1
	r.queueSnap = r.queue.Snapshot()
	r.mu.Unlock()

	r.logger.Info("loop started", "run_id", r.runID, "objective", r.cfg.Objective, "iterations", r.cfg.Iterations)
	ev := r.event(comms.TypeLoopStarted)
	ev.Content = r.cfg.Objective
	r.publish(ctx, ev)

	idle := 0
	for {
		if r.remainingBudget() == 0 {
			return r.finish(ctx, "budget exhausted")
		}
		if ctx.Err() != nil {
			return r.finish(ctx, "cancelled")
		}
		r.drainInbox()

		if r.queue.Len() == 0 {
			if r.cfg.IdlePolls > 0 && idle >= r.cfg.IdlePolls {
				return r.finish(ctx, "queue empty")
			}
			if idle == 0 {
				r.setStatus(StatusDraining)
				r.logger.Info("queue empty, waiting for tasks", "run_id", r.runID)
				r.publish(ctx, r.event(comms.TypeLoopDraining))
			}
			idle++
			if !r.waitForTask(ctx) {
				return r.finish(ctx, "cancelled")
			}
			continue
		}
		idle = 0
		r.setStatus(StatusRunning)

		ev := r.event(comms.TypeQueue)
		ev.Queue = r.queue.Snapshot()
		r.publish(ctx, ev)

		t, _ := r.queue.Pop()
		r.mu.Lock()
		r.current = &t
		r.queueSnap = r.queue.Snapshot()
		r.mu.Unlock()

		ev = r.event(comms.TypeTaskStarted)
		ev.TaskID, ev.Task = t.ID, t.Name
		r.publish(ctx, ev)

		started := time.Now()
		result, err := r.cycle(ctx, t)
		if err != nil {
			return r.fail(ctx, t, result, started, err)
		}
		r.record(context.WithoutCancel(ctx), task.Entry{
			TaskID: t.ID, Name: t.Name, Result: result, Status: task.StatusCompleted,
			StartedAt: started, CompletedAt: time.Now(),
		})

		r.mu.Lock()
		r.remaining--
		r.executed++
		r.current = nil
		r.mu.Unlock()

		if !r.sleep(ctx, r.cfg.Delay) {
			return r.finish(ctx, "cancelled")
		}
	}
}

// cycle runs one task through execution, storage, creation and
// prioritization. The result is returned even when a later step fails.
func (r *Runtime) cycle(ctx context.Context, t task.Task) (result string, err error) {
	ctx, span := startSpan(ctx, "loop.cycle",
		attribute.String("run.id", r.runID),
		attribute.Int("task.id", t.ID),
	)
	defer func() { endSpan(span, err) }()

	result, err = r.cfg.Execution.Execute(ctx, r.cfg.Objective, t.Name)
	if err != nil {
		return "", err
	}
	ev := r.event(comms.TypeTaskResult)
	ev.TaskID, ev.Task, ev.Content = t.ID, t.Name, result
	r.publish(ctx, ev)

	vec, err := r.cfg.Embedder.Embed(ctx, result)
	if err != nil {
		return result, fmt.Errorf("embed result: %w", err)
	}
	rec := memory.Record{
		ID:       memory.ResultID(t.ID),
		Vector:   vec,
		Metadata: map[string]string{memory.KeyTask: t.Name, memory.KeyResult: result},
	}
	if err := r.cfg.Store.Upsert(ctx, rec); err != nil {
		return result, fmt.Errorf("store result: %w", err)
	}

	names, err := r.cfg.Creation.CreateTasks(ctx, r.cfg.Objective, result, t.Name, r.queue.Names())
	if err != nil {
		return result, err
	}
	created := make([]task.Task, 0, len(names))
	for _, name := range names {
		r.nextID++
		nt := task.Task{ID: r.nextID, Name: name}
		r.queue.Push(nt)
		created = append(created, nt)
	}
	ev = r.event(comms.TypeTasksCreated)
	ev.TaskID, ev.Queue = t.ID, created
	r.publish(ctx, ev)

	ordered, err := r.cfg.Prioritization.Reprioritize(ctx, r.cfg.Objective, r.queue.Names(), t.ID+1)
	if err != nil {
		return result, err
	}
	r.queue.Replace(ordered)
	r.nextID = max(r.nextID, r.queue.MaxID())

	r.mu.Lock()
	r.queueSnap = r.queue.Snapshot()
	r.mu.Unlock()

	ev = r.event(comms.TypeQueueReprioritized)
	ev.TaskID, ev.Queue = t.ID, r.queue.Snapshot()
	r.publish(ctx, ev)
	return result, nil
}

// drainInbox moves operator-added tasks into the queue.
func (r *Runtime) drainInbox() {
	for {
		select {
		case name := <-r.inbox:
			r.enqueue(name)
		default:
			return
		}
	}
}

func (r *Runtime) enqueue(name string) {
	r.nextID++
	t := task.Task{ID: r.nextID, Name: name}
	r.queue.Push(t)
	r.logger.Info("task added", "run_id", r.runID, "task_id", t.ID, "task", name)

	r.mu.Lock()
	r.queueSnap = r.queue.Snapshot()
	r.mu.Unlock()
}

// waitForTask sleeps one poll interval or until a task arrives. It reports
// false if ctx was cancelled.
func (r *Runtime) waitForTask(ctx context.Context) bool {
	timer := time.NewTimer(max(r.cfg.Delay, minPollInterval))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case name := <-r.inbox:
		r.enqueue(name)
		return true
	case <-timer.C:
		return true
	}
}

func (r *Runtime) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (r *Runtime) finish(ctx context.Context, reason string) error {
	r.mu.Lock()
	r.status = StatusStopped
	r.current = nil
	executed := r.executed
	r.mu.Unlock()

	r.logger.Info("loop stopped", "run_id", r.runID, "reason", reason, "executed", executed)
	ev := r.event(comms.TypeLoopStopped)
	ev.Content = reason
	r.publish(context.WithoutCancel(ctx), ev)
	return nil
}

func (r *Runtime) fail(ctx context.Context, t task.Task, result string, started time.Time, err error) error {
	bg := context.WithoutCancel(ctx)
	r.record(bg, task.Entry{
		TaskID: t.ID, Name: t.Name, Result: result, Status: task.StatusFailed,
		Error: err.Error(), StartedAt: started, CompletedAt: time.Now(),
	})

	if ctx.Err() != nil {
		r.finish(ctx, "cancelled")
		return fmt.Errorf("task %d: %w", t.ID, ctx.Err())
	}

	r.mu.Lock()
	r.status = StatusFailed
	r.current = nil
	r.lastErr = err.Error()
	r.mu.Unlock()

	r.logger.Error("loop failed", "run_id", r.runID, "task_id", t.ID, "task", t.Name, "err", err)
	ev := r.event(comms.TypeLoopFailed)
	ev.TaskID, ev.Task, ev.Content = t.ID, t.Name, err.Error()
	r.publish(bg, ev)
	return fmt.Errorf("task %d: %w", t.ID, err)
}

func (r *Runtime) record(ctx context.Context, e task.Entry) {
	if r.cfg.Journal == nil {
		return
	}
	e.RunID = r.runID
	if err := r.cfg.Journal.Record(ctx, e); err != nil {
		r.logger.Warn("journal write failed", "run_id", r.runID, "task_id", e.TaskID, "err", err)
	}
}

func (r *Runtime) event(typ comms.EventType) *comms.Event {
	ev := comms.NewEvent(typ, r.runID)
	ev.Remaining = r.remainingBudget()
	return ev
}

func (r *Runtime) publish(ctx context.Context, ev *comms.Event) {
	if r.cfg.Bus == nil {
		return
	}
	if err := r.cfg.Bus.Publish(ctx, ev); err != nil {
		r.logger.Warn("event publish failed", "event", ev.Type, "err", err)
	}
}

func (r *Runtime) setStatus(s Status) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

func (r *Runtime) remainingBudget() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.remaining
}
