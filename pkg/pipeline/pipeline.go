// Package pipeline wires the fetch loops, the pairing engine and the export
// adapters into one harvest run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/Sternrassler/se-harvest/pkg/config"
	"github.com/Sternrassler/se-harvest/pkg/export"
	"github.com/Sternrassler/se-harvest/pkg/pagination"
	"github.com/Sternrassler/se-harvest/pkg/pairing"
	"github.com/Sternrassler/se-harvest/pkg/ratelimit"
	"github.com/Sternrassler/se-harvest/pkg/stackexchange"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrIncomplete is returned by Run when the output was written but the
// question fetch stopped before the last page.
var ErrIncomplete = errors.New("harvest incomplete")

// PairSink persists paired records in addition to the output file.
type PairSink interface {
	Save(ctx context.Context, runID uuid.UUID, site string, records []pairing.Record, opts export.Options) error
}

// Deps are the optional collaborators of a pipeline.
type Deps struct {
	// Redis receives quota snapshots when set.
	Redis *redis.Client

	// Sink receives the paired records when set.
	Sink PairSink

	// Reporter receives pairing anomalies in addition to the log.
	Reporter pairing.Reporter

	// Clock drives request pacing (SystemClock when nil).
	Clock ratelimit.Clock

	// Now is used to detect a from-date in the future (time.Now when nil).
	Now func() time.Time

	Logger zerolog.Logger
}

// Summary describes a finished run.
type Summary struct {
	RunID          uuid.UUID
	Questions      int
	Answers        int
	Paired         int
	Anomalies      []pairing.Anomaly
	FailedGroups   []pagination.BatchFailure
	UnfetchedIDs   []int64
	Complete       bool
	FutureFromDate bool
	OutputPath     string
	Quota          ratelimit.QuotaState
}

// Pipeline runs one harvest. It is built once per run from an immutable
// configuration and is not safe for concurrent use.
type Pipeline struct {
	cfg       config.Config
	format    export.Format
	fromDate  int64
	runID     uuid.UUID
	client    *stackexchange.Client
	paginator *pagination.Paginator
	fetcher   *pagination.BatchFetcher
	sink      PairSink
	reporter  pairing.Reporter
	logger    zerolog.Logger
}

// New validates cfg and builds the pipeline.
func New(cfg config.Config, deps Deps) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fromDate, err := cfg.FromTimestamp()
	if err != nil {
		return nil, err
	}
	format, err := export.ParseFormat(cfg.Output.Format)
	if err != nil {
		return nil, err
	}

	runID := uuid.New()
	logger := deps.Logger.With().Str("run_id", runID.String()).Logger()

	var quotaStore ratelimit.Store
	if deps.Redis != nil {
		quotaStore = ratelimit.NewRedisStore(deps.Redis, cfg.Redis.Namespace)
	}
	tracker := ratelimit.NewTracker(quotaStore, logger.With().Str("component", "quota").Logger())
	policy := ratelimit.NewPolicy(ratelimit.PolicyConfig{
		MinInterval: cfg.StackExchange.MinRequestInterval,
	}, deps.Clock, logger.With().Str("component", "pacing").Logger())

	client, err := stackexchange.New(stackexchange.Config{
		BaseURL:   cfg.StackExchange.BaseURL,
		APIKey:    cfg.StackExchange.APIKey,
		Filter:    cfg.StackExchange.Filter,
		PageSize:  cfg.StackExchange.PageSize,
		Timeout:   cfg.StackExchange.RequestTimeout,
		UserAgent: cfg.StackExchange.UserAgent,
	}, policy, tracker, logger)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	pcfg := pagination.DefaultConfig()
	pcfg.MaxPages = cfg.Query.MaxPages
	if deps.Now != nil {
		pcfg.Now = deps.Now
	}

	reporter := pairing.Reporter(pairing.NewLogReporter(logger))
	if deps.Reporter != nil {
		reporter = pairing.MultiReporter{reporter, deps.Reporter}
	}

	return &Pipeline{
		cfg:       cfg,
		format:    format,
		fromDate:  fromDate,
		runID:     runID,
		client:    client,
		paginator: pagination.NewPaginator(client, pcfg, logger),
		fetcher:   pagination.NewBatchFetcher(client, pcfg, logger),
		sink:      deps.Sink,
		reporter:  reporter,
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}, nil
}

// RunID returns the id of this run.
func (p *Pipeline) RunID() uuid.UUID {
	return p.runID
}

// OutputPath returns the file the run writes to.
func (p *Pipeline) OutputPath() string {
	if p.cfg.Output.Path != "" {
		return p.cfg.Output.Path
	}
	return filepath.Join(p.cfg.Output.Dir, export.DefaultFileName(p.cfg.Query.FromDate, p.format))
}

// Run fetches, pairs and exports. A rejected search request aborts the run
// before anything is written. Transport failures during the search leave a
// partial result that is still paired and exported; Run then returns the
// summary together with ErrIncomplete.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	site, tag := p.cfg.Query.Site, p.cfg.Query.Tag
	summary := &Summary{RunID: p.runID}

	p.logger.Info().
		Str("site", site).
		Str("tag", tag).
		Str("from_date", p.cfg.Query.FromDate).
		Msg("Starting harvest")

	questions, fetchErr := p.paginator.FetchAll(ctx, tag, p.fromDate, site)
	if fetchErr != nil {
		switch {
		case questions == nil:
			return summary, fmt.Errorf("fetch questions: %w", fetchErr)
		case stackexchange.IsServerRejection(fetchErr):
			return summary, fmt.Errorf("question search rejected: %w", fetchErr)
		case ctx.Err() != nil:
			return summary, fmt.Errorf("question search cancelled: %w", ctx.Err())
		}
		p.logger.Warn().
			Err(fetchErr).
			Int("questions", len(questions.Questions)).
			Msg("Question fetch incomplete, continuing with partial results")
	}
	summary.Questions = len(questions.Questions)
	summary.Complete = questions.Complete
	summary.FutureFromDate = questions.FutureFromDate

	batch := p.fetcher.FetchAnswers(ctx, questions.IDs(), site)
	if ctx.Err() != nil {
		return summary, fmt.Errorf("answer fetch cancelled: %w", ctx.Err())
	}
	summary.Answers = len(batch.Answers)
	summary.FailedGroups = batch.Failed

	pairQuestions, pairAnswers, unfetched := withoutFailedGroups(questions.Questions, batch)
	summary.UnfetchedIDs = unfetched
	if len(unfetched) > 0 {
		p.logger.Warn().
			Int("questions", len(unfetched)).
			Int("failed_groups", len(batch.Failed)).
			Msg("Skipping questions whose answers could not be fetched")
	}

	paired := pairing.Pair(pairQuestions, pairAnswers, p.reporter)
	summary.Paired = len(paired.Records)
	summary.Anomalies = paired.Anomalies

	opts := export.Options{PlainText: p.cfg.Output.PlainText}
	summary.OutputPath = p.OutputPath()
	if err := export.WriteFile(summary.OutputPath, p.format, paired.Records, opts); err != nil {
		p.logger.Error().Err(err).Str("path", summary.OutputPath).Msg("Export failed")
		return summary, fmt.Errorf("export: %w", err)
	}

	if p.sink != nil {
		if err := p.sink.Save(ctx, p.runID, site, paired.Records, opts); err != nil {
			p.logger.Error().Err(err).Msg("Storing pairs failed")
			return summary, fmt.Errorf("store pairs: %w", err)
		}
	}

	summary.Quota = p.client.Quota()
	p.logger.Info().
		Int("questions", summary.Questions).
		Int("answers", summary.Answers).
		Int("paired", summary.Paired).
		Int("anomalies", len(summary.Anomalies)).
		Int("failed_groups", len(summary.FailedGroups)).
		Bool("complete", summary.Complete).
		Int("quota_remaining", summary.Quota.Remaining).
		Int("quota_max", summary.Quota.Max).
		Str("path", summary.OutputPath).
		Msg("Harvest finished")

	if !summary.Complete {
		return summary, fmt.Errorf("%w: %v", ErrIncomplete, fetchErr)
	}
	return summary, nil
}

// withoutFailedGroups drops questions (and their answers) whose answer group
// failed, so a fetch failure is not misreported as a missing accepted answer.
func withoutFailedGroups(questions []stackexchange.Question, batch *pagination.BatchResult) ([]stackexchange.Question, []stackexchange.Answer, []int64) {
	failed := batch.FailedIDs()
	if len(failed) == 0 {
		return questions, batch.Answers, nil
	}
	skip := make(map[int64]bool, len(failed))
	for _, id := range failed {
		skip[id] = true
	}

	qs := make([]stackexchange.Question, 0, len(questions))
	for _, q := range questions {
		if !skip[q.QuestionID] {
			qs = append(qs, q)
		}
	}
	as := make([]stackexchange.Answer, 0, len(batch.Answers))
	for _, a := range batch.Answers {
		if !skip[a.QuestionID] {
			as = append(as, a)
		}
	}
	return qs, as, failed
}
