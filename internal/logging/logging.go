// Package logging builds the process logger.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

// Options configures New.
type Options struct {
	Level    string    // debug, info, warn, error
	Format   string    // text or json, for Writer
	File     string    // optional JSON log file, appended to
	Journald bool      // also send records to the systemd journal
	Writer   io.Writer // defaults to os.Stderr
}

// New returns a logger writing to opts.Writer and, when opts.File is set,
// also to that file as JSON. With opts.Journald the records also go to the
// systemd journal. The returned closer releases the file.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	level := new(slog.LevelVar)
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
	}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handlers []slog.Handler
	switch opts.Format {
	case "", "text":
		handlers = append(handlers, slog.NewTextHandler(w, handlerOpts))
	case "json":
		handlers = append(handlers, slog.NewJSONHandler(w, handlerOpts))
	default:
		return nil, nil, fmt.Errorf("log format %q: want text or json", opts.Format)
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, handlerOpts))
		closer = f
	}

	if opts.Journald {
		jh, err := slogjournal.NewHandler(&slogjournal.Options{
			Level:        level,
			ReplaceGroup: toJournalKey,
			ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
				a.Key = toJournalKey(a.Key)
				return a
			},
		})
		if err != nil {
			// keep logging locally when the journal is unreachable
			record := slog.NewRecord(time.Now(), slog.LevelWarn, "systemd journal unavailable", 0)
			record.AddAttrs(slog.Any("err", err))
			_ = handlers[0].Handle(context.Background(), record)
		} else {
			handlers = append(handlers, jh)
		}
	}

	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}

// toJournalKey maps an attribute key to a valid journal field name.
func toJournalKey(key string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, strings.ToUpper(key))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
