package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/GoCodeAlone/pawl/comms"
	"github.com/GoCodeAlone/pawl/provider"
	"github.com/GoCodeAlone/pawl/task"
)

func TestRuntime_Info_Idle(t *testing.T) {
	r := NewRuntime(RuntimeConfig{Objective: testObjective})
	info := r.Info()
	if info.Status != StatusIdle {
		t.Errorf("Status = %q, want idle", info.Status)
	}
	if info.Objective != testObjective {
		t.Errorf("Objective = %q", info.Objective)
	}
	if err := r.AddTask("early"); err == nil {
		t.Error("AddTask before Run should fail")
	}
}

func TestRuntime_Run_InvalidConfig(t *testing.T) {
	h := newHarness(t, &script{}, RuntimeConfig{Iterations: -1})
	err := h.runtime.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "iterations must be positive") {
		t.Errorf("err = %v, want iterations error", err)
	}
	if len(h.provider.Calls()) != 0 {
		t.Error("provider called despite invalid config")
	}
}

func TestRuntime_SingleIteration(t *testing.T) {
	s := &script{
		execute: func(int, string) (string, error) { return "Here is the plan:\n1. shelter", nil },
		create: func(int, string) (string, error) {
			return "Buy materials\n\nBuild shelter\n", nil
		},
		prioritize: func(int, string) (string, error) {
			return "2. Build shelter\n3. Buy materials", nil
		},
	}
	h := newHarness(t, s, RuntimeConfig{Iterations: 1})

	if err := h.runtime.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	info := h.runtime.Info()
	if info.Status != StatusStopped {
		t.Errorf("Status = %q, want stopped", info.Status)
	}
	if info.Executed != 1 || info.Remaining != 0 {
		t.Errorf("Executed=%d Remaining=%d", info.Executed, info.Remaining)
	}
	want := []task.Task{{ID: 2, Name: "Build shelter"}, {ID: 3, Name: "Buy materials"}}
	if len(info.Queue) != len(want) {
		t.Fatalf("Queue = %+v, want %+v", info.Queue, want)
	}
	for i := range want {
		if info.Queue[i] != want[i] {
			t.Errorf("Queue[%d] = %+v, want %+v", i, info.Queue[i], want[i])
		}
	}

	if got := h.store.Upserts(); len(got) != 1 || got[0] != "result_1" {
		t.Errorf("upserts = %v, want [result_1]", got)
	}
	rec, ok := h.store.Get("result_1")
	if !ok {
		t.Fatal("result_1 not stored")
	}
	if rec.Metadata["task"] != "Develop a task list." || rec.Metadata["result"] != "Here is the plan:\n1. shelter" {
		t.Errorf("metadata = %v", rec.Metadata)
	}

	// The objective is embedded for retrieval, then the result for storage.
	texts := h.embedder.Texts()
	if len(texts) != 2 || texts[0] != testObjective || texts[1] != "Here is the plan: 1. shelter" {
		t.Errorf("embedded texts = %q", texts)
	}

	calls := h.provider.Calls()
	if len(calls) != 3 {
		t.Fatalf("provider calls = %d, want 3", len(calls))
	}
	if calls[0].Params != DefaultExecutionParams() {
		t.Errorf("execution params = %+v", calls[0].Params)
	}
	if !strings.Contains(calls[1].Prompt, "These are incomplete tasks: .") {
		t.Errorf("creation prompt should list no pending tasks: %q", calls[1].Prompt)
	}
	if !strings.Contains(calls[2].Prompt, "Buy materials, Build shelter") ||
		!strings.Contains(calls[2].Prompt, "Start the task list with number 2.") {
		t.Errorf("prioritization prompt = %q", calls[2].Prompt)
	}

	var types []comms.EventType
	hist, _ := h.bus.History(0)
	for _, ev := range hist {
		types = append(types, ev.Type)
	}
	wantTypes := []comms.EventType{
		comms.TypeLoopStarted, comms.TypeQueue, comms.TypeTaskStarted, comms.TypeTaskResult,
		comms.TypeTasksCreated, comms.TypeQueueReprioritized, comms.TypeLoopStopped,
	}
	if fmt.Sprint(types) != fmt.Sprint(wantTypes) {
		t.Errorf("event types = %v, want %v", types, wantTypes)
	}

	entries, err := h.journal.List(context.Background(), task.Filter{RunID: info.RunID})
	if err != nil {
		t.Fatalf("journal List: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != task.StatusCompleted || entries[0].TaskID != 1 {
		t.Errorf("journal = %+v", entries)
	}
}

func TestRuntime_BudgetExhaustedStopsCalls(t *testing.T) {
	s := &script{
		execute:    func(n int, _ string) (string, error) { return fmt.Sprintf("result %d", n), nil },
		create:     func(n int, _ string) (string, error) { return fmt.Sprintf("task a%d\ntask b%d", n, n), nil },
		prioritize: echoPriorities,
	}
	h := newHarness(t, s, RuntimeConfig{Iterations: 2})
	if err := h.runtime.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	info := h.runtime.Info()
	if info.Status != StatusStopped {
		t.Errorf("Status = %q, want stopped", info.Status)
	}
	if len(info.Queue) == 0 {
		t.Fatal("queue should still hold tasks when the budget runs out")
	}
	if s.count("execute") != 2 || s.count("create") != 2 || s.count("prioritize") != 2 {
		t.Errorf("calls = %v, want 2 of each", s.counts)
	}
	if n := len(h.provider.Calls()); n != 6 {
		t.Errorf("provider calls = %d, want 6", n)
	}
}

func TestRuntime_CreatedIDsAreNeverReused(t *testing.T) {
	s := &script{
		execute:    func(n int, _ string) (string, error) { return fmt.Sprintf("result %d", n), nil },
		create:     func(n int, _ string) (string, error) { return fmt.Sprintf("first %d\nsecond %d", n, n), nil },
		prioritize: echoPriorities,
	}
	h := newHarness(t, s, RuntimeConfig{Iterations: 4})
	if err := h.runtime.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	last := 1
	for _, ev := range h.events(t, comms.TypeTasksCreated) {
		if len(ev.Queue) != 2 {
			t.Fatalf("created %d tasks, want 2", len(ev.Queue))
		}
		for _, tk := range ev.Queue {
			if tk.ID <= last {
				t.Errorf("created id %d not greater than previous %d", tk.ID, last)
			}
			last = tk.ID
		}
	}

	// Reprioritization keeps every task and renumbers from executed+1.
	for _, ev := range h.events(t, comms.TypeQueueReprioritized) {
		for i, tk := range ev.Queue {
			if tk.ID != ev.TaskID+1+i {
				t.Errorf("after task %d: queue[%d].ID = %d, want %d", ev.TaskID, i, tk.ID, ev.TaskID+1+i)
			}
		}
	}
	reprio := h.events(t, comms.TypeQueueReprioritized)
	if got := len(reprio[len(reprio)-1].Queue); got != 5 {
		t.Errorf("final queue length = %d, want 5 (1 seed + 4x2 created - 4 executed)", got)
	}
}

func TestRuntime_GenerationErrorHalts(t *testing.T) {
	boom := errors.New("upstream 500")
	s := &script{
		execute: func(n int, _ string) (string, error) {
			if n == 2 {
				return "", boom
			}
			return "first result", nil
		},
		create:     func(int, string) (string, error) { return "Next step\nAnother step", nil },
		prioritize: echoPriorities,
	}
	h := newHarness(t, s, RuntimeConfig{Iterations: 5})

	err := h.runtime.Run(context.Background())
	if !errors.Is(err, provider.ErrGeneration) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want ErrGeneration wrapping upstream error", err)
	}
	if !strings.HasPrefix(err.Error(), "task 2:") {
		t.Errorf("err = %q, want task id prefix", err.Error())
	}

	info := h.runtime.Info()
	if info.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", info.Status)
	}
	for _, tk := range info.Queue {
		if tk.ID == 2 {
			t.Error("failed task was re-enqueued")
		}
	}
	if got := h.store.Upserts(); len(got) != 1 || got[0] != "result_1" {
		t.Errorf("upserts = %v", got)
	}
	if s.count("execute") != 2 || s.count("create") != 1 {
		t.Errorf("calls after failure: %v", s.counts)
	}

	entries, _ := h.journal.List(context.Background(), task.Filter{})
	if len(entries) != 2 || entries[1].Status != task.StatusFailed || entries[1].Error == "" {
		t.Errorf("journal = %+v", entries)
	}
	if failed := h.events(t, comms.TypeLoopFailed); len(failed) != 1 || failed[0].TaskID != 2 {
		t.Errorf("loop_failed events = %+v", failed)
	}
}

type failingEmbedder struct{ dim int }

func (e failingEmbedder) Dimension() int { return e.dim }
func (e failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("%w: quota exceeded", provider.ErrEmbedding)
}

func TestRuntime_EmbeddingErrorHalts(t *testing.T) {
	s := &script{execute: func(int, string) (string, error) { return "ok", nil }}
	h := newHarness(t, s, RuntimeConfig{Iterations: 3})
	h.runtime.cfg.Embedder = failingEmbedder{dim: 64}
	h.runtime.cfg.Execution.Context = nil

	err := h.runtime.Run(context.Background())
	if !errors.Is(err, provider.ErrEmbedding) {
		t.Fatalf("err = %v, want ErrEmbedding", err)
	}
	if s.count("create") != 0 {
		t.Error("creation ran after the result failed to embed")
	}
	entries, _ := h.journal.List(context.Background(), task.Filter{})
	if len(entries) != 1 || entries[0].Result != "ok" || entries[0].Status != task.StatusFailed {
		t.Errorf("journal = %+v", entries)
	}
}

func TestRuntime_EmptyQueueStopsAfterIdlePolls(t *testing.T) {
	s := &script{
		execute: func(int, string) (string, error) { return "done", nil },
		create:  func(int, string) (string, error) { return "  \n ", nil },
	}
	h := newHarness(t, s, RuntimeConfig{Iterations: 5, Delay: time.Millisecond, IdlePolls: 2})

	if err := h.runtime.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	info := h.runtime.Info()
	if info.Status != StatusStopped || info.Executed != 1 || info.Remaining != 4 {
		t.Errorf("info = %+v", info)
	}
	if s.count("prioritize") != 0 {
		t.Error("prioritization called for an empty queue")
	}
	if len(h.events(t, comms.TypeLoopDraining)) != 1 {
		t.Error("expected one loop_draining event")
	}
}

func TestRuntime_AddTaskWhileDraining(t *testing.T) {
	s := &script{
		execute: func(n int, _ string) (string, error) { return fmt.Sprintf("done %d", n), nil },
		create:  func(int, string) (string, error) { return "", nil },
	}
	h := newHarness(t, s, RuntimeConfig{Iterations: 5, Delay: time.Millisecond})
	r := h.runtime

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	waitFor(t, "draining", func() bool { return r.Info().Status == StatusDraining })
	if err := r.AddTask("Operator task"); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	waitFor(t, "second execution", func() bool {
		info := r.Info()
		return info.Executed == 2 && info.Status == StatusDraining
	})

	r.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	if r.Info().Status != StatusStopped {
		t.Errorf("Status = %q, want stopped", r.Info().Status)
	}
	rec, ok := h.store.Get("result_2")
	if !ok || rec.Metadata["task"] != "Operator task" {
		t.Errorf("result_2 = %+v, %v", rec, ok)
	}
}

func TestRuntime_StopInterruptsInFlightCall(t *testing.T) {
	h := newHarness(t, &script{}, RuntimeConfig{Iterations: 3})
	bp := &blockingProvider{started: make(chan struct{})}
	h.runtime.cfg.Execution.Provider = bp
	r := h.runtime

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	select {
	case <-bp.started:
	case <-time.After(3 * time.Second):
		t.Fatal("execution never started")
	}
	r.Stop()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if r.Info().Status != StatusStopped {
		t.Errorf("Status = %q, want stopped", r.Info().Status)
	}
	if len(h.store.Upserts()) != 0 {
		t.Error("nothing should be stored for an interrupted task")
	}
}

func TestRuntime_CancelledContext(t *testing.T) {
	h := newHarness(t, &script{}, RuntimeConfig{Iterations: 3})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.runtime.Run(ctx); err != nil {
		t.Errorf("Run: %v", err)
	}
	if len(h.provider.Calls()) != 0 {
		t.Error("provider called with a cancelled context")
	}
}

func TestRuntime_StopAfterCycleKeepsJournalEntry(t *testing.T) {
	s := &script{
		execute:    func(int, string) (string, error) { return "done", nil },
		create:     func(int, string) (string, error) { return "Next step", nil },
		prioritize: echoPriorities,
	}
	h := newHarness(t, s, RuntimeConfig{Iterations: 3})
	h.bus.Subscribe(func(_ context.Context, ev *comms.Event) error {
		if ev.Type == comms.TypeQueueReprioritized {
			h.runtime.Stop()
		}
		return nil
	})

	if err := h.runtime.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	info := h.runtime.Info()
	if info.Executed != 1 {
		t.Fatalf("Executed = %d, want 1", info.Executed)
	}
	entries, err := h.journal.List(context.Background(), task.Filter{RunID: info.RunID})
	if err != nil {
		t.Fatalf("journal List: %v", err)
	}
	if len(entries) != 1 || entries[0].TaskID != 1 || entries[0].Status != task.StatusCompleted {
		t.Errorf("journal = %+v, want the completed task 1", entries)
	}
}
