package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/pawl/internal/console"
	"github.com/GoCodeAlone/pawl/internal/version"
	"github.com/GoCodeAlone/pawl/memory"
	"github.com/GoCodeAlone/pawl/provider"
	"github.com/GoCodeAlone/pawl/server"
	"github.com/GoCodeAlone/pawl/task"
)

const shutdownTimeout = 5 * time.Second

// Run executes the loop until its budget is spent, it idles out, or the
// process is interrupted.
func (c *RunCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	if c.Objective != "" {
		cfg.Objective = c.Objective
	}
	if c.FirstTask != "" {
		cfg.FirstTask = c.FirstTask
	}
	if c.Iterations != 0 {
		cfg.Loop.Iterations = c.Iterations
	}
	if c.Delay != 0 {
		cfg.Loop.Delay = c.Delay
	}
	if c.Serve != "" {
		cfg.Server.Addr = c.Serve
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, logCloser, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close() //nolint:errcheck

	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	ctxAgent := a.contextAgent()
	runID := uuid.NewString()
	rt := a.runtime(ctxAgent, runID)
	if !c.Quiet {
		trace := console.New(g.stdout())
		trace.RunID = runID
		detach := trace.Attach(a.bus)
		defer detach()
	}

	if cfg.Server.Addr != "" {
		srv := server.New(*cfg, version.Version, logger)
		srv.SetLoop(rt)
		srv.SetBus(a.bus)
		srv.SetMemory(ctxAgent)
		if a.journal != nil {
			srv.SetJournal(a.journal)
		}
		ln, err := srv.Listen()
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
		}
		go func() {
			if err := srv.Serve(ln); err != nil {
				logger.Error("server stopped", slog.Any("err", err))
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Stop(ctx); err != nil {
				logger.Warn("server shutdown", slog.Any("err", err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting pawl",
		slog.String("version", version.Version),
		slog.String("provider", cfg.Provider.Type),
		slog.String("memory", cfg.Memory.Backend),
		slog.Int("iterations", cfg.Loop.Iterations),
	)
	if err := rt.Run(ctx); err != nil {
		return err
	}
	info := rt.Info()
	logger.Info("loop finished",
		slog.String("run_id", info.RunID),
		slog.String("status", string(info.Status)),
		slog.Int("executed", info.Executed),
		slog.Int("pending", len(info.Queue)),
	)
	return nil
}

// Run prints the stored results closest to the query text.
func (c *MemoryQueryCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	embedder, err := newEmbedder(cfg.Embedding)
	if err != nil {
		return err
	}
	store, err := newStore(cfg.Memory, embedder.Dimension())
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	a := &app{embedder: embedder, store: store}
	matches, err := a.contextAgent().Matches(context.Background(), c.Text, c.K)
	if err != nil {
		return err
	}
	if c.JSON {
		return writeJSON(g.stdout(), matches)
	}
	return printMatches(g.stdout(), matches)
}

func printMatches(w io.Writer, matches []memory.Match) error {
	if len(matches) == 0 {
		_, err := fmt.Fprintln(w, "no matches")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSCORE\tTASK") //nolint:errcheck
	for _, m := range matches {
		fmt.Fprintf(tw, "%s\t%.4f\t%s\n", m.ID, m.Score, m.Metadata[memory.KeyTask]) //nolint:errcheck
	}
	return tw.Flush()
}

// Run prints journal entries or run ids.
func (c *HistoryCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Journal.Path == "" {
		return errors.New("journal.path is not configured")
	}
	j, err := openJournal(cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer j.Close() //nolint:errcheck
	ctx := context.Background()

	if c.Runs {
		runs, err := j.Runs(ctx)
		if err != nil {
			return err
		}
		for _, id := range runs {
			fmt.Fprintln(g.stdout(), id) //nolint:errcheck
		}
		return nil
	}

	filter := task.Filter{RunID: c.RunID, Limit: c.Limit}
	if c.Status != "" && c.Status != "all" {
		st := task.Status(c.Status)
		filter.Status = &st
	}
	entries, err := j.List(ctx, filter)
	if err != nil {
		return err
	}
	if c.JSON {
		if entries == nil {
			entries = []task.Entry{}
		}
		return writeJSON(g.stdout(), entries)
	}
	return printEntries(g.stdout(), entries)
}

func printEntries(w io.Writer, entries []task.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "no entries")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tTASK\tSTATUS\tDURATION\tNAME") //nolint:errcheck
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", //nolint:errcheck
			shortID(e.RunID), e.TaskID, e.Status,
			e.CompletedAt.Sub(e.StartedAt).Round(time.Millisecond), truncate(e.Name, 60))
	}
	return tw.Flush()
}

// Run lists the models of the configured provider.
func (c *ModelsCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	models, err := provider.ListModels(ctx, cfg.Provider.Type, cfg.Provider.APIKey, cfg.Provider.BaseURL)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(g.stdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME") //nolint:errcheck
	for _, m := range models {
		fmt.Fprintf(tw, "%s\t%s\n", m.ID, m.Name) //nolint:errcheck
	}
	return tw.Flush()
}

// Run prints the build version.
func (c *VersionCmd) Run(g *Globals) error {
	_, err := fmt.Fprintln(g.stdout(), version.String())
	return err
}

// Run prints a bcrypt hash of the password.
func (c *HashPasswordCmd) Run(g *Globals) error {
	password := c.Password
	if password == "" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	hash, err := server.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(g.stdout(), hash)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
