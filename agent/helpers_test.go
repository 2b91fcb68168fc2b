package agent

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GoCodeAlone/pawl/comms"
	"github.com/GoCodeAlone/pawl/memory"
	"github.com/GoCodeAlone/pawl/provider"
	"github.com/GoCodeAlone/pawl/provider/mock"
	"github.com/GoCodeAlone/pawl/task"
)

const testObjective = "solve the homeless problem in a random US city"

// script answers each agent's prompt with its own function.
type script struct {
	mu         sync.Mutex
	execute    func(n int, prompt string) (string, error)
	create     func(n int, prompt string) (string, error)
	prioritize func(n int, prompt string) (string, error)
	counts     map[string]int
}

func (s *script) respond(prompt string) (string, error) {
	s.mu.Lock()
	if s.counts == nil {
		s.counts = map[string]int{}
	}
	var (
		kind string
		fn   func(int, string) (string, error)
	)
	switch {
	case strings.HasPrefix(prompt, "You are an AI who performs"):
		kind, fn = "execute", s.execute
	case strings.HasPrefix(prompt, "You are a task creation AI"):
		kind, fn = "create", s.create
	case strings.HasPrefix(prompt, "You are a task prioritization AI"):
		kind, fn = "prioritize", s.prioritize
	}
	s.counts[kind]++
	n := s.counts[kind]
	s.mu.Unlock()

	if fn == nil {
		return "", nil
	}
	return fn(n, prompt)
}

func (s *script) count(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[kind]
}

// echoPriorities returns the pending tasks from a prioritization prompt as a
// "#." list in the order given.
func echoPriorities(_ int, prompt string) (string, error) {
	const startMarker = "reprioritizing the following tasks: "
	const endMarker = ". Consider the ultimate objective"
	start := strings.Index(prompt, startMarker)
	end := strings.Index(prompt, endMarker)
	if start < 0 || end < 0 {
		return "", nil
	}
	var b strings.Builder
	for _, name := range strings.Split(prompt[start+len(startMarker):end], ", ") {
		b.WriteString("#. " + name + "\n")
	}
	return b.String(), nil
}

type harness struct {
	provider *mock.MockProvider
	embedder *mock.Embedder
	store    *memory.InMemoryStore
	bus      *comms.InMemoryBus
	journal  *task.SQLiteJournal
	runtime  *Runtime
}

func newHarness(t *testing.T, s *script, cfg RuntimeConfig) *harness {
	t.Helper()
	h := &harness{
		provider: mock.NewFunc(s.respond),
		embedder: mock.NewEmbedder(64),
		bus:      comms.NewInMemoryBus(),
		journal:  newTestJournal(t),
	}
	h.store = memory.NewInMemoryStore(h.embedder.Dimension(), memory.MetricCosine)

	if cfg.Objective == "" {
		cfg.Objective = testObjective
	}
	if cfg.FirstTask == "" {
		cfg.FirstTask = "Develop a task list."
	}
	if cfg.Iterations == 0 {
		cfg.Iterations = 1
	}
	cfg.Execution = NewExecutionAgent(h.provider, NewContextAgent(h.embedder, h.store))
	cfg.Creation = NewCreationAgent(h.provider, nil)
	cfg.Prioritization = NewPrioritizationAgent(h.provider, nil)
	cfg.Embedder = h.embedder
	cfg.Store = h.store
	cfg.Journal = h.journal
	cfg.Bus = h.bus
	h.runtime = NewRuntime(cfg)
	return h
}

func newTestJournal(t *testing.T) *task.SQLiteJournal {
	t.Helper()
	f, err := os.CreateTemp("", "pawl-agent-*.db")
	if err != nil {
		t.Fatalf("create temp db: %v", err)
	}
	f.Close()
	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	j, err := task.NewSQLiteJournal(path)
	if err != nil {
		t.Fatalf("NewSQLiteJournal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func (h *harness) events(t *testing.T, typ comms.EventType) []*comms.Event {
	t.Helper()
	all, err := h.bus.History(0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	var out []*comms.Event
	for _, ev := range all {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// blockingProvider blocks every call until its context is done.
type blockingProvider struct {
	started chan struct{}
	once    sync.Once
}

func (p *blockingProvider) Name() string { return "blocking" }

func (p *blockingProvider) Chat(ctx context.Context, _ []provider.Message, _ provider.Params) (*provider.Response, error) {
	p.once.Do(func() { close(p.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}
