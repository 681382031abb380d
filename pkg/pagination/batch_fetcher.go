package pagination

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/se-harvest/pkg/stackexchange"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	seAnswerGroupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "se_answer_groups_total",
		Help: "Answer request groups by outcome",
	}, []string{"outcome"})
)

// AnswerFetcher is the interface the API client must implement for
// vectorized answer retrieval.
type AnswerFetcher interface {
	QuestionAnswers(ctx context.Context, site string, questionIDs []int64, page int) (*stackexchange.Page[stackexchange.Answer], error)
}

// BatchFailure records a group whose answers could not be (fully) fetched.
type BatchFailure struct {
	// Index of the group in request order, starting at 0.
	Index int
	// IDs of the questions in the group.
	IDs []int64
	// Page that failed within the group.
	Page int
	Err  error
}

// BatchResult is the outcome of a FetchAnswers call.
type BatchResult struct {
	// Answers of all groups, group by group in request order.
	Answers []stackexchange.Answer
	// Groups is the number of groups the input was split into.
	Groups int
	// Failed lists the groups that failed, in request order.
	Failed []BatchFailure
	// Quota after the last successful request.
	Quota stackexchange.Quota
}

// FailedIDs returns the question ids of all failed groups.
func (r *BatchResult) FailedIDs() []int64 {
	var ids []int64
	for _, f := range r.Failed {
		ids = append(ids, f.IDs...)
	}
	return ids
}

// BatchFetcher fetches the answers of many questions in bounded groups.
type BatchFetcher struct {
	fetcher AnswerFetcher
	config  Config
	logger  zerolog.Logger
}

// NewBatchFetcher creates a new batch fetcher.
func NewBatchFetcher(fetcher AnswerFetcher, config Config, logger zerolog.Logger) *BatchFetcher {
	if config.BatchSize <= 0 || config.BatchSize > stackexchange.MaxBatchSize {
		config.BatchSize = stackexchange.MaxBatchSize
	}
	return &BatchFetcher{
		fetcher: fetcher,
		config:  config,
		logger:  logger.With().Str("component", "batch-fetcher").Logger(),
	}
}

// Partition splits ids into consecutive groups of at most size elements,
// preserving order. The groups share ids' backing array.
func Partition(ids []int64, size int) [][]int64 {
	if size <= 0 {
		size = stackexchange.MaxBatchSize
	}
	groups := make([][]int64, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		groups = append(groups, ids[start:end:end])
	}
	return groups
}

// FetchAnswers retrieves the answers for questionIDs on site. Each group is
// independent: a failed group is recorded in the result and the remaining
// groups are still fetched. An empty input issues no request.
func (bf *BatchFetcher) FetchAnswers(ctx context.Context, questionIDs []int64, site string) *BatchResult {
	groups := Partition(questionIDs, bf.config.BatchSize)
	result := &BatchResult{Groups: len(groups)}
	if len(groups) == 0 {
		return result
	}

	start := time.Now()
	logger := bf.logger.With().Str("site", site).Logger()
	logger.Info().
		Int("questions", len(questionIDs)).
		Int("groups", len(groups)).
		Msg("Starting answer fetch")

	for i, group := range groups {
		answers, page, err := bf.fetchGroup(ctx, site, group, result)
		result.Answers = append(result.Answers, answers...)

		if err != nil {
			seAnswerGroupsTotal.WithLabelValues("failed").Inc()
			result.Failed = append(result.Failed, BatchFailure{
				Index: i,
				IDs:   group,
				Page:  page,
				Err:   err,
			})
			logger.Warn().
				Err(err).
				Int("group", i).
				Int("group_size", len(group)).
				Int64("first_question_id", group[0]).
				Int("page", page).
				Str("error_class", string(stackexchange.ClassOf(err))).
				Msg("Answer group failed - continuing with next group")
			continue
		}

		seAnswerGroupsTotal.WithLabelValues("ok").Inc()
		logger.Debug().
			Int("group", i).
			Int("group_size", len(group)).
			Int("answers", len(answers)).
			Msg("Answer group fetched")
	}

	logger.Info().
		Int("groups", len(groups)).
		Int("failed_groups", len(result.Failed)).
		Int("answers", len(result.Answers)).
		Dur("duration", time.Since(start)).
		Msg("Answer fetch complete")

	return result
}

// fetchGroup walks the pages of one group. On failure the answers of the
// pages already fetched are returned with the failing page number.
func (bf *BatchFetcher) fetchGroup(ctx context.Context, site string, group []int64, result *BatchResult) ([]stackexchange.Answer, int, error) {
	var answers []stackexchange.Answer
	for page := 1; ; page++ {
		resp, err := bf.fetcher.QuestionAnswers(ctx, site, group, page)
		if err != nil {
			return answers, page, fmt.Errorf("fetch answers page %d: %w", page, err)
		}
		answers = append(answers, resp.Items...)
		result.Quota = resp.Quota
		if !resp.HasMore {
			return answers, page, nil
		}
	}
}
