package pagination

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/Sternrassler/se-harvest/pkg/stackexchange"
	"github.com/rs/zerolog"
)

var testLogger = zerolog.New(os.Stderr).Level(zerolog.Disabled)

// fakeSearcher serves canned pages and records the requested page numbers.
type fakeSearcher struct {
	pages    []*stackexchange.Page[stackexchange.Question]
	errs     map[int]error
	requests []stackexchange.SearchParams
}

func (f *fakeSearcher) SearchQuestions(ctx context.Context, p stackexchange.SearchParams) (*stackexchange.Page[stackexchange.Question], error) {
	f.requests = append(f.requests, p)
	if err, ok := f.errs[p.Page]; ok {
		return nil, err
	}
	if p.Page > len(f.pages) {
		return &stackexchange.Page[stackexchange.Question]{}, nil
	}
	return f.pages[p.Page-1], nil
}

func (f *fakeSearcher) PageSize() int { return 100 }

func questions(ids ...int64) []stackexchange.Question {
	out := make([]stackexchange.Question, len(ids))
	for i, id := range ids {
		out[i] = stackexchange.Question{QuestionID: id, Title: "q"}
	}
	return out
}

func page(hasMore bool, ids ...int64) *stackexchange.Page[stackexchange.Question] {
	return &stackexchange.Page[stackexchange.Question]{
		Items:   questions(ids...),
		HasMore: hasMore,
		Quota:   stackexchange.Quota{Remaining: 9000, Max: 10000},
	}
}

func fixedNow() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Now = fixedNow
	return cfg
}

func TestFetchAll_StopsWhenHasMoreFalse(t *testing.T) {
	searcher := &fakeSearcher{pages: []*stackexchange.Page[stackexchange.Question]{
		page(true, 1, 2),
		page(true, 3, 4),
		page(false, 5),
		page(false, 6),
	}}

	p := NewPaginator(searcher, testConfig(), testLogger)
	result, err := p.FetchAll(context.Background(), "go", 1700000000, "stackoverflow")
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}

	if len(searcher.requests) != 3 {
		t.Errorf("requests = %d, want 3", len(searcher.requests))
	}
	for i, req := range searcher.requests {
		if req.Page != i+1 {
			t.Errorf("request %d page = %d, want %d", i, req.Page, i+1)
		}
		if req.Tag != "go" || req.Site != "stackoverflow" || req.FromDate != 1700000000 {
			t.Errorf("request %d params = %+v", i, req)
		}
	}
	if !result.Complete {
		t.Error("Complete = false, want true")
	}
	if result.State.Page != 3 || result.State.HasMore {
		t.Errorf("State = page %d has_more %v, want page 3 has_more false", result.State.Page, result.State.HasMore)
	}
	if result.State.PageSize != 100 {
		t.Errorf("State.PageSize = %d, want 100", result.State.PageSize)
	}
	if result.State.Quota.Remaining != 9000 {
		t.Errorf("State.Quota.Remaining = %d, want 9000", result.State.Quota.Remaining)
	}
}

func TestFetchAll_PreservesOrderAndDropsDuplicates(t *testing.T) {
	searcher := &fakeSearcher{pages: []*stackexchange.Page[stackexchange.Question]{
		page(true, 30, 10, 20),
		page(false, 20, 40, 10),
	}}

	p := NewPaginator(searcher, testConfig(), testLogger)
	result, err := p.FetchAll(context.Background(), "go", 0, "stackoverflow")
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}

	want := []int64{30, 10, 20, 40}
	got := result.IDs()
	if len(got) != len(want) {
		t.Fatalf("IDs() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("IDs()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFetchAll_FirstOccurrenceWins(t *testing.T) {
	first := page(true, 7)
	first.Items[0].Title = "first"
	second := page(false, 7)
	second.Items[0].Title = "second"

	searcher := &fakeSearcher{pages: []*stackexchange.Page[stackexchange.Question]{first, second}}
	p := NewPaginator(searcher, testConfig(), testLogger)
	result, err := p.FetchAll(context.Background(), "go", 0, "stackoverflow")
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}

	if len(result.Questions) != 1 || result.Questions[0].Title != "first" {
		t.Errorf("Questions = %+v, want single question titled first", result.Questions)
	}
}

func TestFetchAll_EmptyFirstPage(t *testing.T) {
	searcher := &fakeSearcher{pages: []*stackexchange.Page[stackexchange.Question]{page(false)}}

	p := NewPaginator(searcher, testConfig(), testLogger)
	result, err := p.FetchAll(context.Background(), "go", 0, "stackoverflow")
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(result.Questions) != 0 || !result.Complete {
		t.Errorf("result = %d questions complete=%v, want 0 and true", len(result.Questions), result.Complete)
	}
	if len(searcher.requests) != 1 {
		t.Errorf("requests = %d, want 1", len(searcher.requests))
	}
}

func TestFetchAll_FutureFromDate(t *testing.T) {
	searcher := &fakeSearcher{}

	p := NewPaginator(searcher, testConfig(), testLogger)
	result, err := p.FetchAll(context.Background(), "go", fixedNow().Add(24*time.Hour).Unix(), "stackoverflow")
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}

	if len(searcher.requests) != 0 {
		t.Errorf("requests = %d, want 0", len(searcher.requests))
	}
	if !result.FutureFromDate || !result.Complete || len(result.Questions) != 0 {
		t.Errorf("result = %+v, want empty complete result with FutureFromDate", result)
	}
}

func TestFetchAll_TransportFailureReturnsPartial(t *testing.T) {
	netErr := &stackexchange.APIError{ErrorClass: stackexchange.ErrorClassNetwork, Message: "request failed"}
	searcher := &fakeSearcher{
		pages: []*stackexchange.Page[stackexchange.Question]{
			page(true, 1, 2),
			page(true, 3),
			page(false, 4),
		},
		errs: map[int]error{3: netErr},
	}

	p := NewPaginator(searcher, testConfig(), testLogger)
	result, err := p.FetchAll(context.Background(), "go", 0, "stackoverflow")
	if err == nil {
		t.Fatal("Expected error but got nil")
	}
	if !errors.Is(err, netErr) {
		t.Errorf("error = %v, want wrapped network error", err)
	}
	if result == nil {
		t.Fatal("result is nil, want partial result")
	}
	if result.Complete {
		t.Error("Complete = true, want false")
	}
	if len(result.Questions) != 3 {
		t.Errorf("Questions = %d, want 3", len(result.Questions))
	}
	if result.State.Page != 3 {
		t.Errorf("State.Page = %d, want 3", result.State.Page)
	}
}

func TestFetchAll_ServerRejectionSurfacesDiagnostic(t *testing.T) {
	rejection := &stackexchange.APIError{
		StatusCode: 400,
		ErrorClass: stackexchange.ErrorClassClient,
		ErrorID:    400,
		ErrorName:  "bad_parameter",
		Message:    "tagged is invalid",
	}
	searcher := &fakeSearcher{errs: map[int]error{1: rejection}}

	p := NewPaginator(searcher, testConfig(), testLogger)
	_, err := p.FetchAll(context.Background(), "go", 0, "stackoverflow")

	var apiErr *stackexchange.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Message != "tagged is invalid" {
		t.Errorf("Message = %q, want %q", apiErr.Message, "tagged is invalid")
	}
	if !stackexchange.IsServerRejection(err) {
		t.Error("IsServerRejection() = false, want true")
	}
}

func TestFetchAll_MaxPages(t *testing.T) {
	searcher := &fakeSearcher{pages: []*stackexchange.Page[stackexchange.Question]{
		page(true, 1),
		page(true, 2),
		page(true, 3),
	}}
	cfg := testConfig()
	cfg.MaxPages = 2

	p := NewPaginator(searcher, cfg, testLogger)
	result, err := p.FetchAll(context.Background(), "go", 0, "stackoverflow")
	if !errors.Is(err, ErrMaxPages) {
		t.Fatalf("error = %v, want ErrMaxPages", err)
	}
	if len(searcher.requests) != 2 {
		t.Errorf("requests = %d, want 2", len(searcher.requests))
	}
	if result.Complete || len(result.Questions) != 2 {
		t.Errorf("result = %d questions complete=%v, want 2 and false", len(result.Questions), result.Complete)
	}
}

func TestFetchAll_InvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		tag  string
		site string
	}{
		{name: "missing tag", tag: "", site: "stackoverflow"},
		{name: "missing site", tag: "go", site: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searcher := &fakeSearcher{}
			p := NewPaginator(searcher, testConfig(), testLogger)

			result, err := p.FetchAll(context.Background(), tt.tag, 0, tt.site)
			if !errors.Is(err, stackexchange.ErrInvalidArgument) {
				t.Errorf("error = %v, want ErrInvalidArgument", err)
			}
			if result != nil {
				t.Error("result should be nil")
			}
			if len(searcher.requests) != 0 {
				t.Errorf("requests = %d, want 0", len(searcher.requests))
			}
		})
	}
}
