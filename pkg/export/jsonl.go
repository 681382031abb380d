package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/Sternrassler/se-harvest/pkg/pairing"
)

// maxLineSize bounds a single JSONL line when reading; post bodies can be long.
const maxLineSize = 16 << 20

// PromptSeparator joins the question title and body in a prompt.
const PromptSeparator = "\n\n"

// JSONLRecord is one line of the line-delimited format.
type JSONLRecord struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// Prompt returns the prompt text of a record: title and body joined by
// PromptSeparator.
func Prompt(rec pairing.Record, opts Options) string {
	title, body := rec.Question.Title, rec.Question.Body
	if opts.PlainText {
		title, body = PlainText(title), PlainText(body)
	}
	return title + PromptSeparator + body
}

// ToJSONL converts a paired record to its line-delimited form.
func ToJSONL(rec pairing.Record, opts Options) JSONLRecord {
	response := rec.Answer.Body
	if opts.PlainText {
		response = PlainText(response)
	}
	return JSONLRecord{
		Prompt:   Prompt(rec, opts),
		Response: response,
	}
}

func writeJSONL(w io.Writer, records []pairing.Record, opts Options) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(ToJSONL(rec, opts)); err != nil {
			return fmt.Errorf("encode record %d (question %d): %w", i, rec.Question.QuestionID, err)
		}
	}
	return nil
}

// ReadJSONL parses a line-delimited file written by Write. Blank lines are skipped.
func ReadJSONL(r io.Reader) ([]JSONLRecord, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var out []JSONLRecord
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec JSONLRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read jsonl: %w", err)
	}
	return out, nil
}
