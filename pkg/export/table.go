package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// TimeLayout is the fixed UTC timestamp format used in exports.
const TimeLayout = "2006-01-02 15:04:05 UTC"

// Table is a rendered export table.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

// Write writes t to w with delim as field separator (',' when zero).
func Write(w io.Writer, t *Table, delim rune) error {
	cw := csv.NewWriter(w)
	if delim != 0 {
		cw.Comma = delim
	}
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("export: write %s: %w", t.Name, err)
	}
	return nil
}

// Read parses a table previously produced by Write.
func Read(r io.Reader, delim rune) (*Table, error) {
	cr := csv.NewReader(r)
	if delim != 0 {
		cr.Comma = delim
	}
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("export: read: empty input")
		}
		return nil, fmt.Errorf("export: read header: %w", err)
	}
	cr.FieldsPerRecord = len(header)
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("export: read: %w", err)
	}
	if rows == nil {
		rows = [][]string{}
	}
	return &Table{Header: header, Rows: rows}, nil
}

// TimestampedFilename returns dir/name_YYYYMMDD_HHMMSS.csv for now in UTC.
func TimestampedFilename(dir, name string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.csv", name, now.UTC().Format("20060102_150405")))
}

// WriteFile writes t to path, creating parent directories as needed.
func WriteFile(path string, t *Table, delim rune) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("export: mkdir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("export: close: %w", cerr)
		}
	}()
	return Write(f, t, delim)
}
