// Package export writes paired records to disk as a JSON document or as
// line-delimited prompt/response objects.
package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sternrassler/se-harvest/pkg/pairing"
)

// Format is an output format.
type Format string

const (
	// FormatJSON writes a single indented JSON array of {question, answer} records.
	FormatJSON Format = "json"

	// FormatJSONL writes one {prompt, response} object per line.
	FormatJSONL Format = "jsonl"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatJSONL:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want json or jsonl)", s)
	}
}

// Extension returns the file extension for f, without dot.
func (f Format) Extension() string {
	return string(f)
}

// Options tune the written content.
type Options struct {
	// PlainText strips HTML markup from titles and bodies.
	PlainText bool
}

// Write serializes records to w in the given format. Records are written in
// input order and never dropped.
func Write(w io.Writer, format Format, records []pairing.Record, opts Options) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, records, opts)
	case FormatJSONL:
		return writeJSONL(w, records, opts)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// WriteFile writes records to path, creating parent directories as needed.
// The file is written to a temporary name first and renamed on success.
func WriteFile(path string, format Format, records []pairing.Record, opts Options) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer os.Remove(tmp.Name())

	buf := bufio.NewWriter(tmp)
	if err := Write(buf, format, records, opts); err != nil {
		tmp.Close()
		return err
	}
	if err := buf.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}

// DefaultFileName returns questions_with_answers_<date>.<ext>.
func DefaultFileName(date string, format Format) string {
	return fmt.Sprintf("questions_with_answers_%s.%s", date, format.Extension())
}

func writeJSON(w io.Writer, records []pairing.Record, opts Options) error {
	out := records
	if opts.PlainText {
		out = make([]pairing.Record, len(records))
		for i, rec := range records {
			rec.Question.Title = PlainText(rec.Question.Title)
			rec.Question.Body = PlainText(rec.Question.Body)
			rec.Answer.Body = PlainText(rec.Answer.Body)
			out[i] = rec
		}
	}
	if out == nil {
		out = []pairing.Record{}
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
