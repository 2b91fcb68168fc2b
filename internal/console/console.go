// Package console prints a human-readable trace of loop events.
package console

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/GoCodeAlone/pawl/comms"
	"github.com/GoCodeAlone/pawl/task"
)

// Renderer writes trace blocks for loop events.
type Renderer struct {
	// RunID, when set, limits output to events from that run.
	RunID string

	mu    sync.Mutex
	w     io.Writer
	upper cases.Caser

	header lipgloss.Style
	taskID lipgloss.Style
	faint  lipgloss.Style
	failed lipgloss.Style
}

// New returns a Renderer writing to w. Colors are used only when w is a
// terminal.
func New(w io.Writer) *Renderer {
	r := lipgloss.NewRenderer(w)
	return &Renderer{
		w:      w,
		upper:  cases.Upper(language.English),
		header: r.NewStyle().Bold(true).Foreground(lipgloss.Color("13")),
		taskID: r.NewStyle().Foreground(lipgloss.Color("12")),
		faint:  r.NewStyle().Foreground(lipgloss.Color("8")),
		failed: r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
	}
}

// Attach subscribes the renderer to bus and returns the unsubscribe func.
func (r *Renderer) Attach(bus comms.Bus) func() {
	return bus.Subscribe(r.Handle)
}

// Handle renders one event. It satisfies comms.Handler.
func (r *Renderer) Handle(_ context.Context, ev *comms.Event) error {
	if r.RunID != "" && ev.RunID != r.RunID {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	switch ev.Type {
	case comms.TypeLoopStarted:
		r.block(&b, r.header, "objective")
		b.WriteString(ev.Content + "\n")
	case comms.TypeQueue:
		r.block(&b, r.header, "task list")
		r.tasks(&b, ev.Queue)
	case comms.TypeTaskStarted:
		r.block(&b, r.header, "next task")
		r.tasks(&b, []task.Task{{ID: ev.TaskID, Name: ev.Task}})
	case comms.TypeTaskResult:
		r.block(&b, r.header, "task result")
		b.WriteString(ev.Content + "\n")
	case comms.TypeTasksCreated:
		if len(ev.Queue) == 0 {
			b.WriteString(r.faint.Render("no new tasks") + "\n")
			break
		}
		r.block(&b, r.faint, "new tasks")
		r.tasks(&b, ev.Queue)
	case comms.TypeQueueReprioritized:
		// the next queue event prints the new order
	case comms.TypeLoopDraining:
		b.WriteString(r.faint.Render("task list empty, waiting for tasks...") + "\n")
	case comms.TypeLoopStopped:
		r.block(&b, r.faint, "loop stopped")
		b.WriteString(ev.Content + "\n")
	case comms.TypeLoopFailed:
		r.block(&b, r.failed, "loop failed")
		fmt.Fprintf(&b, "%s %s\n", r.taskID.Render(fmt.Sprintf("%d:", ev.TaskID)), ev.Content)
	}
	if b.Len() == 0 {
		return nil
	}
	_, err := io.WriteString(r.w, b.String())
	return err
}

func (r *Renderer) block(b *strings.Builder, style lipgloss.Style, title string) {
	b.WriteString("\n" + style.Render("*****"+r.upper.String(title)+"*****") + "\n")
}

func (r *Renderer) tasks(b *strings.Builder, tasks []task.Task) {
	for _, t := range tasks {
		fmt.Fprintf(b, "%s %s\n", r.taskID.Render(fmt.Sprintf("%d:", t.ID)), t.Name)
	}
}
