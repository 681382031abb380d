// Package pairing joins questions with their single accepted answer.
package pairing

import (
	"github.com/Sternrassler/se-harvest/pkg/stackexchange"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sePairedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "se_paired_records_total",
		Help: "Total number of questions paired with their accepted answer",
	})

	seAnomaliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "se_pairing_anomalies_total",
		Help: "Pairing anomalies by kind",
	}, []string{"kind"})
)

// Record is a question joined with its accepted answer.
type Record struct {
	Question stackexchange.Question `json:"question"`
	Answer   stackexchange.Answer   `json:"answer"`
}

// AnomalyKind classifies why a question was not paired.
type AnomalyKind string

const (
	// AnomalyMissingAccepted means no fetched answer of the question is accepted.
	AnomalyMissingAccepted AnomalyKind = "missing_accepted"

	// AnomalyMultipleAccepted means more than one answer claims to be accepted.
	AnomalyMultipleAccepted AnomalyKind = "multiple_accepted"

	// AnomalyOrphanAnswer means an answer belongs to none of the input questions.
	// It does not affect the output.
	AnomalyOrphanAnswer AnomalyKind = "orphan_answer"
)

// Message returns the human readable description of the anomaly kind.
func (k AnomalyKind) Message() string {
	switch k {
	case AnomalyMissingAccepted:
		return "missing accepted answer despite upstream filter"
	case AnomalyMultipleAccepted:
		return "multiple accepted answers"
	case AnomalyOrphanAnswer:
		return "answer does not belong to any fetched question"
	default:
		return string(k)
	}
}

// Anomaly is a non-fatal pairing problem.
type Anomaly struct {
	Kind       AnomalyKind
	QuestionID int64
	// AnswerIDs are the accepted answers for AnomalyMultipleAccepted, or the
	// orphan answer for AnomalyOrphanAnswer.
	AnswerIDs []int64
}

// Reporter receives anomalies as they are detected.
type Reporter interface {
	Report(a Anomaly)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(a Anomaly)

// Report calls f(a).
func (f ReporterFunc) Report(a Anomaly) { f(a) }

// Result is the outcome of Pair.
type Result struct {
	Records   []Record
	Anomalies []Anomaly
}

// Skipped returns the number of input questions that were omitted.
func (r *Result) Skipped() int {
	n := 0
	for _, a := range r.Anomalies {
		if a.Kind != AnomalyOrphanAnswer {
			n++
		}
	}
	return n
}

// Pair selects the single accepted answer of every question. Questions with
// zero or several accepted answers are omitted and reported. Output keeps
// the input question order. Neither input slice is modified.
// reporter may be nil.
func Pair(questions []stackexchange.Question, answers []stackexchange.Answer, reporter Reporter) *Result {
	byID := make(map[int64]stackexchange.Question, len(questions))
	for _, q := range questions {
		byID[q.QuestionID] = q
	}

	answersByQuestion := make(map[int64][]stackexchange.Answer, len(questions))
	for _, a := range answers {
		answersByQuestion[a.QuestionID] = append(answersByQuestion[a.QuestionID], a)
	}

	result := &Result{Records: make([]Record, 0, len(questions))}
	emit := func(a Anomaly) {
		seAnomaliesTotal.WithLabelValues(string(a.Kind)).Inc()
		result.Anomalies = append(result.Anomalies, a)
		if reporter != nil {
			reporter.Report(a)
		}
	}

	for _, q := range questions {
		accepted := acceptedOnly(answersByQuestion[q.QuestionID])
		switch len(accepted) {
		case 1:
			sePairedTotal.Inc()
			result.Records = append(result.Records, Record{
				Question: byID[q.QuestionID],
				Answer:   accepted[0],
			})
		case 0:
			emit(Anomaly{Kind: AnomalyMissingAccepted, QuestionID: q.QuestionID})
		default:
			ids := make([]int64, len(accepted))
			for i, a := range accepted {
				ids[i] = a.AnswerID
			}
			emit(Anomaly{Kind: AnomalyMultipleAccepted, QuestionID: q.QuestionID, AnswerIDs: ids})
		}
	}

	for _, a := range answers {
		if _, ok := byID[a.QuestionID]; !ok {
			emit(Anomaly{Kind: AnomalyOrphanAnswer, QuestionID: a.QuestionID, AnswerIDs: []int64{a.AnswerID}})
		}
	}

	return result
}

func acceptedOnly(answers []stackexchange.Answer) []stackexchange.Answer {
	var out []stackexchange.Answer
	for _, a := range answers {
		if a.IsAccepted {
			out = append(out, a)
		}
	}
	return out
}
