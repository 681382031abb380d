package stackexchange_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/Sternrassler/se-harvest/internal/testutil"
	"github.com/Sternrassler/se-harvest/pkg/ratelimit"
	"github.com/Sternrassler/se-harvest/pkg/stackexchange"
	"github.com/rs/zerolog"
)

var quietLogger = zerolog.New(os.Stderr).Level(zerolog.Disabled)

func newTestClient(t *testing.T, baseURL string, clock ratelimit.Clock) *stackexchange.Client {
	t.Helper()

	cfg := stackexchange.DefaultConfig("test-key")
	cfg.BaseURL = baseURL
	policy := ratelimit.NewPolicy(ratelimit.DefaultPolicyConfig(), clock, quietLogger)

	client, err := stackexchange.New(cfg, policy, ratelimit.NewTracker(nil, quietLogger), quietLogger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(cfg *stackexchange.Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid config",
			modify:      func(cfg *stackexchange.Config) {},
			expectError: false,
		},
		{
			name:        "empty base url",
			modify:      func(cfg *stackexchange.Config) { cfg.BaseURL = "" },
			expectError: true,
			errorMsg:    "base url is required",
		},
		{
			name:        "page size too large",
			modify:      func(cfg *stackexchange.Config) { cfg.PageSize = 101 },
			expectError: true,
			errorMsg:    "page_size must be between 1 and 100 (got 101)",
		},
		{
			name:        "page size zero",
			modify:      func(cfg *stackexchange.Config) { cfg.PageSize = 0 },
			expectError: true,
			errorMsg:    "page_size must be between 1 and 100 (got 0)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := stackexchange.DefaultConfig("key")
			tt.modify(&cfg)

			client, err := stackexchange.New(cfg, nil, nil, quietLogger)
			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got nil")
				}
				if err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if client == nil {
				t.Error("Client is nil")
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := stackexchange.DefaultConfig("abc")

	if cfg.BaseURL != stackexchange.DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, stackexchange.DefaultBaseURL)
	}
	if cfg.PageSize != stackexchange.MaxPageSize {
		t.Errorf("PageSize = %d, want %d", cfg.PageSize, stackexchange.MaxPageSize)
	}
	if cfg.Filter != "withbody" {
		t.Errorf("Filter = %q, want withbody", cfg.Filter)
	}
	if cfg.APIKey != "abc" {
		t.Errorf("APIKey = %q, want abc", cfg.APIKey)
	}
}

func TestSearchQuestions_QueryParameters(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetSearchPages(testutil.SearchPage{Questions: testutil.Questions(1, 2)})

	client := newTestClient(t, mock.URL(), nil)
	page, err := client.SearchQuestions(context.Background(), stackexchange.SearchParams{
		Tag:      "go",
		Site:     "stackoverflow",
		FromDate: 1700000000,
		Page:     1,
	})
	if err != nil {
		t.Fatalf("SearchQuestions() error = %v", err)
	}
	if len(page.Items) != 2 {
		t.Errorf("Items = %d, want 2", len(page.Items))
	}

	requests := mock.Requests()
	if len(requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(requests))
	}
	q := requests[0].Query
	expected := map[string]string{
		"order":    "desc",
		"sort":     "votes",
		"tagged":   "go",
		"site":     "stackoverflow",
		"filter":   "withbody",
		"fromdate": "1700000000",
		"accepted": "True",
		"key":      "test-key",
		"page":     "1",
		"pagesize": "100",
	}
	for key, want := range expected {
		if got := q.Get(key); got != want {
			t.Errorf("query %s = %q, want %q", key, got, want)
		}
	}
}

func TestSearchQuestions_RequiresTagAndSite(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", nil)

	_, err := client.SearchQuestions(context.Background(), stackexchange.SearchParams{Site: "stackoverflow"})
	if !errors.Is(err, stackexchange.ErrInvalidArgument) {
		t.Errorf("error = %v, want ErrInvalidArgument", err)
	}
}

func TestQuestionAnswers_VectorizedPath(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetAnswers(
		stackexchange.Answer{AnswerID: 10, QuestionID: 1, IsAccepted: true},
		stackexchange.Answer{AnswerID: 11, QuestionID: 2},
		stackexchange.Answer{AnswerID: 12, QuestionID: 9},
	)

	client := newTestClient(t, mock.URL(), nil)
	page, err := client.QuestionAnswers(context.Background(), "stackoverflow", []int64{1, 2, 3}, 1)
	if err != nil {
		t.Fatalf("QuestionAnswers() error = %v", err)
	}
	if len(page.Items) != 2 {
		t.Errorf("Items = %d, want 2", len(page.Items))
	}

	requests := mock.Requests()
	if got := requests[0].Path; got != "/questions/1;2;3/answers" {
		t.Errorf("path = %q, want /questions/1;2;3/answers", got)
	}
	if got := requests[0].Query.Get("tagged"); got != "" {
		t.Errorf("answers request should not carry tagged, got %q", got)
	}
}

func TestQuestionAnswers_TooManyIDs(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", nil)

	ids := make([]int64, stackexchange.MaxBatchSize+1)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	_, err := client.QuestionAnswers(context.Background(), "stackoverflow", ids, 1)
	if !errors.Is(err, stackexchange.ErrTooManyIDs) {
		t.Errorf("error = %v, want ErrTooManyIDs", err)
	}
}

func TestClient_ServerDiagnosticSurfaced(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetSearchResponse(1, testutil.NewBadParameterResponse("fromdate is out of range"))

	client := newTestClient(t, mock.URL(), nil)
	_, err := client.SearchQuestions(context.Background(), stackexchange.SearchParams{Tag: "go", Site: "so", Page: 1})

	var apiErr *stackexchange.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", apiErr.StatusCode)
	}
	if apiErr.ErrorClass != stackexchange.ErrorClassClient {
		t.Errorf("ErrorClass = %q, want client", apiErr.ErrorClass)
	}
	if apiErr.ErrorName != "bad_parameter" || apiErr.Message != "fromdate is out of range" {
		t.Errorf("diagnostic = %q/%q, want bad_parameter/fromdate is out of range", apiErr.ErrorName, apiErr.Message)
	}
	if !stackexchange.IsServerRejection(err) {
		t.Error("bad_parameter should be a server rejection")
	}
}

func TestClient_ThrottleViolation(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetSearchResponse(1, testutil.NewThrottleResponse())

	client := newTestClient(t, mock.URL(), nil)
	_, err := client.SearchQuestions(context.Background(), stackexchange.SearchParams{Tag: "go", Site: "so", Page: 1})

	if got := stackexchange.ClassOf(err); got != stackexchange.ErrorClassRateLimit {
		t.Errorf("ClassOf() = %q, want rate_limit", got)
	}
	if !stackexchange.IsServerRejection(err) {
		t.Error("throttle violation should be a server rejection")
	}
}

func TestClient_ServerError(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetSearchResponse(1, testutil.NewServerErrorResponse())

	client := newTestClient(t, mock.URL(), nil)
	_, err := client.SearchQuestions(context.Background(), stackexchange.SearchParams{Tag: "go", Site: "so", Page: 1})

	if got := stackexchange.ClassOf(err); got != stackexchange.ErrorClassServer {
		t.Errorf("ClassOf() = %q, want server", got)
	}
	if stackexchange.IsServerRejection(err) {
		t.Error("5xx should not be a server rejection")
	}
}

func TestClient_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close()

	client := newTestClient(t, baseURL, nil)
	_, err := client.SearchQuestions(context.Background(), stackexchange.SearchParams{Tag: "go", Site: "so", Page: 1})

	if got := stackexchange.ClassOf(err); got != stackexchange.ErrorClassNetwork {
		t.Errorf("ClassOf() = %q, want network", got)
	}
}

func TestClient_UndecodableBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("<html>maintenance</html>"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	_, err := client.SearchQuestions(context.Background(), stackexchange.SearchParams{Tag: "go", Site: "so", Page: 1})

	if got := stackexchange.ClassOf(err); got != stackexchange.ErrorClassNetwork {
		t.Errorf("ClassOf() = %q, want network", got)
	}
}

func TestClient_TracksQuota(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetQuota(301, 300)
	mock.SetSearchPages(testutil.SearchPage{Questions: testutil.Questions(1, 1)})

	client := newTestClient(t, mock.URL(), nil)
	page, err := client.SearchQuestions(context.Background(), stackexchange.SearchParams{Tag: "go", Site: "so", Page: 1})
	if err != nil {
		t.Fatalf("SearchQuestions() error = %v", err)
	}

	// The mock decrements before answering.
	if page.Quota.Remaining != 300 || page.Quota.Max != 300 {
		t.Errorf("page quota = %d/%d, want 300/300", page.Quota.Remaining, page.Quota.Max)
	}
	if got := client.Quota(); got.Remaining != 300 || got.Max != 300 {
		t.Errorf("client quota = %d/%d, want 300/300", got.Remaining, got.Max)
	}
}

func TestClient_BackoffDelaysNextRequest(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetClock(clock)
	mock.SetSearchPages(
		testutil.SearchPage{Questions: testutil.Questions(1, 2), HasMore: true, Backoff: 7},
		testutil.SearchPage{Questions: testutil.Questions(3, 2)},
	)

	client := newTestClient(t, mock.URL(), clock)
	ctx := context.Background()
	for page := 1; page <= 2; page++ {
		if _, err := client.SearchQuestions(ctx, stackexchange.SearchParams{Tag: "go", Site: "so", Page: page}); err != nil {
			t.Fatalf("page %d: %v", page, err)
		}
	}

	requests := mock.Requests()
	if len(requests) != 2 {
		t.Fatalf("requests = %d, want 2", len(requests))
	}
	if gap := requests[1].At.Sub(requests[0].At); gap < 7*time.Second {
		t.Errorf("second request %v after the first, want >= 7s", gap)
	}
}

func TestClient_MinimumSpacingWithoutBackoff(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetClock(clock)

	client := newTestClient(t, mock.URL(), clock)
	ctx := context.Background()
	for page := 1; page <= 3; page++ {
		client.SearchQuestions(ctx, stackexchange.SearchParams{Tag: "go", Site: "so", Page: page})
	}

	requests := mock.Requests()
	for i := 1; i < len(requests); i++ {
		if gap := requests[i].At.Sub(requests[i-1].At); gap < ratelimit.DefaultMinInterval {
			t.Errorf("gap %d = %v, want >= %v", i, gap, ratelimit.DefaultMinInterval)
		}
	}
}
