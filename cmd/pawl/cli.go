package main

import (
	"io"
	"os"
	"time"
)

// CLI defines the command-line interface.
type CLI struct {
	Globals

	Run          RunCmd          `cmd:"" help:"Run the task loop toward the objective"`
	Memory       MemoryCmd       `cmd:"" help:"Inspect stored task results"`
	History      HistoryCmd      `cmd:"" help:"Show the run journal"`
	Models       ModelsCmd       `cmd:"" help:"List models offered by the configured provider"`
	Version      VersionCmd      `cmd:"" help:"Show version information"`
	HashPassword HashPasswordCmd `cmd:"" name:"hash-password" help:"Print a bcrypt hash for auth.admin_pass"`
}

// Globals are flags shared by every command.
type Globals struct {
	Config   string `short:"c" type:"path" help:"Config file (.yaml, .yml or .toml)"`
	EnvFile  string `name:"env-file" default:".env" help:"Dotenv file loaded before the config"`
	LogLevel string `name:"log-level" help:"Override log.level (debug, info, warn, error)"`

	Stdout io.Writer `kong:"-"`
}

func (g *Globals) stdout() io.Writer {
	if g.Stdout != nil {
		return g.Stdout
	}
	return os.Stdout
}

// RunCmd runs the loop.
type RunCmd struct {
	Objective  string        `short:"o" help:"Override the objective"`
	FirstTask  string        `name:"first-task" help:"Override the first task"`
	Iterations int           `short:"n" help:"Override loop.iterations"`
	Delay      time.Duration `help:"Override loop.delay"`
	Serve      string        `help:"Serve the monitoring API on this address (overrides server.addr)"`
	Quiet      bool          `short:"q" help:"Do not print the task trace"`
}

// MemoryCmd groups memory store commands.
type MemoryCmd struct {
	Query MemoryQueryCmd `cmd:"" help:"Show the stored results most similar to a query"`
}

// MemoryQueryCmd queries the memory store.
type MemoryQueryCmd struct {
	Text string `arg:"" help:"Query text"`
	K    int    `short:"k" default:"5" help:"Number of matches"`
	JSON bool   `help:"Print matches as JSON"`
}

// HistoryCmd lists journal entries.
type HistoryCmd struct {
	RunID  string `name:"run" help:"Only show entries of this run id"`
	Status string `enum:"all,completed,failed" default:"all" help:"Filter by status (all, completed, failed)"`
	Limit  int    `default:"50" help:"Maximum entries (0 for all)"`
	Runs   bool   `help:"List run ids instead of entries"`
	JSON   bool   `help:"Print entries as JSON"`
}

// ModelsCmd lists provider models.
type ModelsCmd struct{}

// VersionCmd shows version information.
type VersionCmd struct{}

// HashPasswordCmd hashes an admin password.
type HashPasswordCmd struct {
	Password string `arg:"" optional:"" help:"Password to hash; read from stdin when omitted"`
}
