// Package export writes finished sessions to disk and databases.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cgast/vxcore/internal/logging"
	"github.com/cgast/vxcore/pkg/events"
	"github.com/cgast/vxcore/pkg/session"
)

// DefaultFormats are written when an experiment names none.
var DefaultFormats = []string{"csv", "json"}

// Sink is a session.Sink that reports what it wrote to.
type Sink interface {
	session.Sink
	Format() string
	Target(rec session.Record) string
}

// Options select the formats Open builds sinks for.
type Options struct {
	Dir      string
	Formats  []string
	MySQLDSN string
	Logger   *slog.Logger
	Bus      events.Publisher
}

// Open builds a Multi with one sink per format.
func Open(opts Options) (*Multi, error) {
	formats := opts.Formats
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}

	m := &Multi{log: logging.OrDiscard(opts.Logger), bus: opts.Bus}
	for _, f := range formats {
		var s Sink
		switch f {
		case "csv":
			s = &CSV{Dir: dir}
		case "json":
			s = &JSON{Dir: dir}
		case "sqlite":
			db, err := OpenSQLite(filepath.Join(dir, "sessions.db"))
			if err != nil {
				m.Close()
				return nil, err
			}
			m.closers = append(m.closers, db)
			s = db
		case "mysql":
			db, err := OpenMySQL(opts.MySQLDSN)
			if err != nil {
				m.Close()
				return nil, err
			}
			m.closers = append(m.closers, db)
			s = db
		default:
			m.Close()
			return nil, fmt.Errorf("unknown output format %q", f)
		}
		m.sinks = append(m.sinks, s)
	}
	return m, nil
}

// Multi saves to several sinks in order and stops at the first error.
type Multi struct {
	sinks   []Sink
	closers []io.Closer
	log     *slog.Logger
	bus     events.Publisher
}

// NewMulti fans out to sinks. Closing sinks stays with the caller.
func NewMulti(logger *slog.Logger, sinks ...Sink) *Multi {
	return &Multi{sinks: sinks, log: logging.OrDiscard(logger)}
}

// Save writes rec to every sink.
func (m *Multi) Save(ctx context.Context, rec session.Record) error {
	for _, s := range m.sinks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Save(ctx, rec); err != nil {
			return fmt.Errorf("save %s: %w", s.Format(), err)
		}
		target := s.Target(rec)
		m.log.Info("session data saved", "format", s.Format(), "target", target, "trials", len(rec.Results))
		if m.bus != nil {
			e := events.NewEvent(events.EventDataSaved, map[string]any{
				"format": s.Format(),
				"target": target,
				"trials": len(rec.Results),
			})
			e.SessionID = rec.Meta.ID
			m.bus.Publish(e)
		}
	}
	return nil
}

// Formats lists the sink formats in save order.
func (m *Multi) Formats() []string {
	out := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		out[i] = s.Format()
	}
	return out
}

// Close releases database connections opened by Open.
func (m *Multi) Close() error {
	var errs []error
	for _, c := range m.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.closers = nil
	return errors.Join(errs...)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// BaseName is the file name stem for a session:
// <experiment>_<participant>_<start time>.
func BaseName(rec session.Record) string {
	parts := []string{
		rec.Meta.Experiment,
		rec.Meta.Participant.ID,
		rec.Meta.Started.Format("20060102-150405"),
	}
	for i, p := range parts {
		p = unsafeChars.ReplaceAllString(strings.TrimSpace(p), "-")
		if p == "" {
			p = "unknown"
		}
		parts[i] = p
	}
	return strings.Join(parts, "_")
}

// writeFile writes via a temp file in the same directory and renames it
// into place.
func writeFile(path string, write func(w io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vx-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
