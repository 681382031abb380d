package pairing

import (
	"github.com/rs/zerolog"
)

// LogReporter writes every anomaly as a structured warning.
type LogReporter struct {
	logger zerolog.Logger
}

// NewLogReporter creates a reporter logging to logger.
func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{logger: logger.With().Str("component", "pairing").Logger()}
}

// Report implements Reporter.
func (r *LogReporter) Report(a Anomaly) {
	event := r.logger.Warn()
	if a.Kind == AnomalyOrphanAnswer {
		event = r.logger.Debug()
	}
	if len(a.AnswerIDs) > 0 {
		event = event.Ints64("answer_ids", a.AnswerIDs)
	}
	event.
		Str("anomaly", string(a.Kind)).
		Int64("question_id", a.QuestionID).
		Msg(a.Kind.Message())
}

// Collector accumulates anomalies in memory.
type Collector struct {
	Anomalies []Anomaly
}

// Report implements Reporter.
func (c *Collector) Report(a Anomaly) {
	c.Anomalies = append(c.Anomalies, a)
}

// MultiReporter fans an anomaly out to several reporters.
type MultiReporter []Reporter

// Report implements Reporter.
func (m MultiReporter) Report(a Anomaly) {
	for _, r := range m {
		if r != nil {
			r.Report(a)
		}
	}
}
