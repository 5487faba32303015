package design

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cgast/vxcore/pkg/fault"
)

// LoadCSV reads a trial table from a CSV file. See ReadCSV.
func LoadCSV(path string, repeat int) (TrialList, error) {
	f, err := os.Open(path)
	if err != nil {
		return TrialList{}, fmt.Errorf("open trial table %s: %w", path, err)
	}
	defer f.Close()

	list, err := ReadCSV(f, repeat)
	if err != nil {
		return TrialList{}, fmt.Errorf("trial table %s: %w", path, err)
	}
	return list, nil
}

// ReadCSV parses a header row followed by one row per trial. Cells that
// look like integers, floats or booleans are converted so that a table
// cell "1" compares equal to a factorial level 1.
func ReadCSV(r io.Reader, repeat int) (TrialList, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return TrialList{}, fmt.Errorf("%w: trial table is empty", fault.ErrParse)
		}
		return TrialList{}, fmt.Errorf("%w: read header: %v", fault.ErrParse, err)
	}

	columns := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			return TrialList{}, fmt.Errorf("%w: header column %d is empty", fault.ErrParse, i+1)
		}
		if seen[name] {
			return TrialList{}, fmt.Errorf("%w: duplicate header column %q", fault.ErrParse, name)
		}
		seen[name] = true
		columns[i] = name
	}

	var rows []map[string]any
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// csv.ErrFieldCount covers ragged rows.
			return TrialList{}, fmt.Errorf("%w: %v", fault.ErrParse, err)
		}
		row := make(map[string]any, len(columns))
		for i, cell := range rec {
			row[columns[i]] = parseCell(cell)
		}
		rows = append(rows, row)
	}

	return fromRows(columns, rows, repeat)
}

func parseCell(s string) any {
	s = strings.TrimSpace(s)
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}
