package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"

	"github.com/cgast/vxcore/pkg/session"
	"github.com/cgast/vxcore/pkg/track"
	"github.com/cgast/vxcore/pkg/trial"
)

// CSV writes the trial table, one row per trial in execution order, and
// next to it the sample log when the session recorded one.
type CSV struct {
	Dir string
}

func (c *CSV) Format() string { return "csv" }

func (c *CSV) Target(rec session.Record) string {
	return filepath.Join(c.Dir, BaseName(rec)+".csv")
}

// SamplesTarget is the file the sample log goes to.
func (c *CSV) SamplesTarget(rec session.Record) string {
	return filepath.Join(c.Dir, BaseName(rec)+"_samples.csv")
}

func (c *CSV) Save(ctx context.Context, rec session.Record) error {
	if err := writeFile(c.Target(rec), func(w io.Writer) error {
		return WriteCSV(w, rec)
	}); err != nil {
		return err
	}
	if len(rec.Samples) == 0 {
		return nil
	}
	return writeFile(c.SamplesTarget(rec), func(w io.Writer) error {
		return WriteSamplesCSV(w, rec.Samples)
	})
}

// WriteCSV writes the factor columns in schema order followed by the
// result columns.
func WriteCSV(w io.Writer, rec session.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(trial.Columns(rec.Meta.Factors)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range rec.Results {
		if err := cw.Write(r.Row(rec.Meta.Factors)); err != nil {
			return fmt.Errorf("write trial %d: %w", r.Trial, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSamplesCSV writes one row per tracked position per frame.
func WriteSamplesCSV(w io.Writer, samples []track.Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(track.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, s := range samples {
		if err := cw.Write(s.Row()); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
