package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// errorsColumn is appended to the headers of every failed-rows file.
const errorsColumn = "Errors"

// failSink writes rejected rows to a side CSV. The file is created on the
// first failure; the header row is written once and every row is flushed as
// soon as it is appended.
type failSink struct {
	files   Files
	name    string
	headers []string

	ref    string
	closer io.Closer
	w      *csv.Writer
	rows   int
}

func newFailSink(files Files, name string, headers []string) *failSink {
	return &failSink{files: files, name: name, headers: headers}
}

// Append writes cells (padded or cut to the header width) followed by the
// messages joined with ", ".
func (s *failSink) Append(cells []string, messages []string) error {
	if s.w == nil {
		if err := s.open(); err != nil {
			return err
		}
	}
	width := len(s.headers)
	if width == 0 {
		width = len(cells)
	}
	row := make([]string, width, width+1)
	copy(row, cells)
	row = append(row, strings.Join(messages, ", "))
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("write failed row: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush failed row: %w", err)
	}
	s.rows++
	return nil
}

func (s *failSink) open() error {
	ref, wc, err := s.files.CreateFailed(s.name)
	if err != nil {
		return err
	}
	s.ref = ref
	s.closer = wc
	s.w = csv.NewWriter(wc)
	header := append(append([]string{}, s.headers...), errorsColumn)
	if err := s.w.Write(header); err != nil {
		wc.Close()
		return fmt.Errorf("write failed header: %w", err)
	}
	return nil
}

// Ref returns the stored file reference, or "" when nothing failed.
func (s *failSink) Ref() string { return s.ref }

// Rows returns the number of rows appended.
func (s *failSink) Rows() int { return s.rows }

// Close closes the underlying file if one was created.
func (s *failSink) Close() error {
	if s.closer == nil {
		return nil
	}
	s.w.Flush()
	err := s.w.Error()
	if cerr := s.closer.Close(); err == nil {
		err = cerr
	}
	s.closer = nil
	return err
}
