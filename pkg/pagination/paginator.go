package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/se-harvest/pkg/stackexchange"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	sePagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "se_search_pages_fetched_total",
		Help: "Total number of search pages fetched",
	})

	seDuplicateQuestionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "se_duplicate_questions_total",
		Help: "Questions dropped because an earlier page already returned them",
	})
)

// ErrMaxPages is returned when the paginator stops at Config.MaxPages while
// the server still reported more pages.
var ErrMaxPages = errors.New("max pages reached")

// Config holds fetch loop configuration.
type Config struct {
	// MaxPages bounds the number of search pages (0 = unlimited).
	MaxPages int

	// BatchSize is the number of question ids per answers request
	// (1..stackexchange.MaxBatchSize).
	BatchSize int

	// Now returns the current time; used to detect a from-date in the future.
	Now func() time.Time
}

// DefaultConfig returns the default fetch loop configuration.
func DefaultConfig() Config {
	return Config{
		MaxPages:  0,
		BatchSize: stackexchange.MaxBatchSize,
		Now:       time.Now,
	}
}

// QuestionSearcher is the interface the API client must implement for
// paged question search.
type QuestionSearcher interface {
	SearchQuestions(ctx context.Context, p stackexchange.SearchParams) (*stackexchange.Page[stackexchange.Question], error)
}

// State is the paged request state of one FetchAll call.
type State struct {
	Site     string
	Tag      string
	FromDate int64
	Page     int
	PageSize int
	HasMore  bool
	Quota    stackexchange.Quota
}

// Result is the outcome of a FetchAll call.
type Result struct {
	// Questions in server order, without duplicates.
	Questions []stackexchange.Question

	// Complete is true only if the server reported has_more=false on the last
	// page. Partial results after a failure have Complete=false.
	Complete bool

	// FutureFromDate is set when the from-date lies in the future and no
	// request was made.
	FutureFromDate bool

	// State after the last request.
	State State
}

// IDs returns the question ids in result order.
func (r *Result) IDs() []int64 {
	ids := make([]int64, len(r.Questions))
	for i, q := range r.Questions {
		ids[i] = q.QuestionID
	}
	return ids
}

// Paginator walks the search endpoint page by page.
type Paginator struct {
	searcher QuestionSearcher
	config   Config
	logger   zerolog.Logger
}

// NewPaginator creates a new paginator.
func NewPaginator(searcher QuestionSearcher, config Config, logger zerolog.Logger) *Paginator {
	if config.MaxPages < 0 {
		config.MaxPages = 0
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Paginator{
		searcher: searcher,
		config:   config,
		logger:   logger.With().Str("component", "paginator").Logger(),
	}
}

// FetchAll fetches every page of questions for tag on site created at or
// after fromDate (UNIX seconds).
//
// On failure the questions accumulated so far are returned together with the
// error, and Complete is false. A server rejection is returned as
// *stackexchange.APIError so callers can read the server's diagnostic.
func (p *Paginator) FetchAll(ctx context.Context, tag string, fromDate int64, site string) (*Result, error) {
	if tag == "" || site == "" {
		return nil, fmt.Errorf("%w: tag and site are required", stackexchange.ErrInvalidArgument)
	}

	result := &Result{
		State: State{Site: site, Tag: tag, FromDate: fromDate, HasMore: true},
	}
	if sized, ok := p.searcher.(interface{ PageSize() int }); ok {
		result.State.PageSize = sized.PageSize()
	}
	logger := p.logger.With().Str("site", site).Str("tag", tag).Logger()

	if fromDate > p.config.Now().Unix() {
		logger.Warn().
			Time("from_date", time.Unix(fromDate, 0)).
			Msg("From-date lies in the future, nothing to fetch")
		result.Complete = true
		result.FutureFromDate = true
		result.State.HasMore = false
		return result, nil
	}

	start := time.Now()
	seen := make(map[int64]bool)

	for page := 1; ; page++ {
		if p.config.MaxPages > 0 && page > p.config.MaxPages {
			logger.Warn().
				Int("max_pages", p.config.MaxPages).
				Int("questions", len(result.Questions)).
				Msg("Stopping at page limit, results are partial")
			return result, fmt.Errorf("%w (%d pages)", ErrMaxPages, p.config.MaxPages)
		}

		result.State.Page = page
		resp, err := p.searcher.SearchQuestions(ctx, stackexchange.SearchParams{
			Tag:      tag,
			Site:     site,
			FromDate: fromDate,
			Page:     page,
		})
		if err != nil {
			logger.Warn().
				Err(err).
				Int("page", page).
				Int("questions", len(result.Questions)).
				Str("error_class", string(stackexchange.ClassOf(err))).
				Msg("Page fetch failed - returning partial results")
			return result, fmt.Errorf("fetch page %d (partial data: %d questions): %w",
				page, len(result.Questions), err)
		}
		sePagesFetchedTotal.Inc()

		for _, q := range resp.Items {
			if seen[q.QuestionID] {
				seDuplicateQuestionsTotal.Inc()
				logger.Debug().
					Int64("question_id", q.QuestionID).
					Int("page", page).
					Msg("Dropping duplicate question")
				continue
			}
			seen[q.QuestionID] = true
			result.Questions = append(result.Questions, q)
		}

		result.State.HasMore = resp.HasMore
		result.State.Quota = resp.Quota

		logger.Debug().
			Int("page", page).
			Int("items", len(resp.Items)).
			Bool("has_more", resp.HasMore).
			Int("backoff", resp.Backoff).
			Int("quota_remaining", resp.Quota.Remaining).
			Msg("Page fetched")

		if !resp.HasMore {
			break
		}
	}

	result.Complete = true
	logger.Info().
		Int("pages", result.State.Page).
		Int("questions", len(result.Questions)).
		Int("quota_remaining", result.State.Quota.Remaining).
		Int("quota_max", result.State.Quota.Max).
		Dur("duration", time.Since(start)).
		Msg("Question fetch complete")

	return result, nil
}
