// Package testutil provides testing utilities for the StackExchange harvester.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/se-harvest/pkg/stackexchange"
)

// MockResponse defines a canned response for a mock endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// SearchPage is one page served by the mock search endpoint.
type SearchPage struct {
	Questions []stackexchange.Question
	HasMore   bool
	Backoff   int
}

// RecordedRequest is a request observed by the mock server.
type RecordedRequest struct {
	Path  string
	Query url.Values
	At    time.Time
}

// IDs returns the semicolon-separated ids of an answers request path.
func (r RecordedRequest) IDs() []string {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(r.Path, "/questions/"), "/answers")
	if trimmed == "" || trimmed == r.Path {
		return nil
	}
	return strings.Split(trimmed, ";")
}

// MockAPI is a configurable mock StackExchange API server for testing.
type MockAPI struct {
	server *httptest.Server
	mu     sync.Mutex
	clock  interface{ Now() time.Time }

	searchPages    []SearchPage
	searchOverride map[int]MockResponse
	answers        []stackexchange.Answer
	answerBackoff  int
	answerOverride func(ids []string, page int) *MockResponse

	quotaMax       int
	quotaRemaining int
	requests       []RecordedRequest
}

// NewMockAPI creates a new mock API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		searchOverride: make(map[int]MockResponse),
		quotaMax:       10000,
		quotaRemaining: 10000,
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server base URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// SetClock makes recorded request timestamps come from clock.
func (m *MockAPI) SetClock(clock interface{ Now() time.Time }) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

// SetSearchPages configures the pages served by the search endpoint.
func (m *MockAPI) SetSearchPages(pages ...SearchPage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchPages = pages
}

// SetSearchResponse overrides the response for one search page.
func (m *MockAPI) SetSearchResponse(page int, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchOverride[page] = resp
}

// SetAnswers configures the answers known to the answers endpoint.
func (m *MockAPI) SetAnswers(answers ...stackexchange.Answer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = answers
}

// SetAnswerBackoff makes every answers response carry a backoff directive.
func (m *MockAPI) SetAnswerBackoff(seconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answerBackoff = seconds
}

// SetAnswerOverride installs a hook that may replace an answers response.
// Returning nil serves the normal response.
func (m *MockAPI) SetAnswerOverride(fn func(ids []string, page int) *MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answerOverride = fn
}

// SetQuota sets the quota counters reported by subsequent responses.
func (m *MockAPI) SetQuota(remaining, max int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotaRemaining = remaining
	m.quotaMax = max
}

// Requests returns all recorded requests in arrival order.
func (m *MockAPI) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestsTo returns recorded requests whose path has the given prefix.
func (m *MockAPI) RequestsTo(prefix string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range m.Requests() {
		if strings.HasPrefix(r.Path, prefix) {
			out = append(out, r)
		}
	}
	return out
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAPI) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *MockAPI) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	at := time.Now()
	if m.clock != nil {
		at = m.clock.Now()
	}
	m.requests = append(m.requests, RecordedRequest{
		Path:  r.URL.Path,
		Query: r.URL.Query(),
		At:    at,
	})
	if m.quotaRemaining > 0 {
		m.quotaRemaining--
	}
	m.mu.Unlock()

	page := 1
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}

	switch {
	case r.URL.Path == "/search/advanced":
		m.handleSearch(w, page)
	case strings.HasPrefix(r.URL.Path, "/questions/") && strings.HasSuffix(r.URL.Path, "/answers"):
		pageSize := 30
		if ps, err := strconv.Atoi(r.URL.Query().Get("pagesize")); err == nil && ps > 0 {
			pageSize = ps
		}
		m.handleAnswers(w, RecordedRequest{Path: r.URL.Path}.IDs(), page, pageSize)
	default:
		writeMock(w, NewErrorResponse(http.StatusNotFound, 404, "no_method", "no method found with this name"))
	}
}

func (m *MockAPI) handleSearch(w http.ResponseWriter, page int) {
	m.mu.Lock()
	override, overridden := m.searchOverride[page]
	var current SearchPage
	if page <= len(m.searchPages) {
		current = m.searchPages[page-1]
	}
	remaining, max := m.quotaRemaining, m.quotaMax
	m.mu.Unlock()

	if overridden {
		writeMock(w, override)
		return
	}

	items := current.Questions
	if items == nil {
		items = []stackexchange.Question{}
	}
	writeJSON(w, stackexchange.Wrapper[stackexchange.Question]{
		Items:          items,
		HasMore:        current.HasMore,
		Backoff:        current.Backoff,
		QuotaRemaining: remaining,
		QuotaMax:       max,
	})
}

func (m *MockAPI) handleAnswers(w http.ResponseWriter, ids []string, page, pageSize int) {
	m.mu.Lock()
	hook := m.answerOverride
	all := m.answers
	backoff := m.answerBackoff
	remaining, max := m.quotaRemaining, m.quotaMax
	m.mu.Unlock()

	if hook != nil {
		if resp := hook(ids, page); resp != nil {
			writeMock(w, *resp)
			return
		}
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	matched := []stackexchange.Answer{}
	for _, a := range all {
		if wanted[strconv.FormatInt(a.QuestionID, 10)] {
			matched = append(matched, a)
		}
	}

	start := (page - 1) * pageSize
	if start > len(matched) {
		start = len(matched)
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}

	writeJSON(w, stackexchange.Wrapper[stackexchange.Answer]{
		Items:          matched[start:end],
		HasMore:        end < len(matched),
		Backoff:        backoff,
		QuotaRemaining: remaining,
		QuotaMax:       max,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func writeMock(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewErrorResponse creates an API error response in the StackExchange wrapper format.
func NewErrorResponse(status, errorID int, errorName, message string) MockResponse {
	body, _ := json.Marshal(map[string]any{
		"error_id":      errorID,
		"error_name":    errorName,
		"error_message": message,
	})
	return MockResponse{StatusCode: status, Body: string(body)}
}

// NewBadParameterResponse creates a 400 bad_parameter response.
func NewBadParameterResponse(message string) MockResponse {
	return NewErrorResponse(http.StatusBadRequest, 400, "bad_parameter", message)
}

// NewThrottleResponse creates a 400 throttle_violation response.
func NewThrottleResponse() MockResponse {
	return NewErrorResponse(http.StatusBadRequest, 502, "throttle_violation",
		"too many requests from this IP, more requests available in 60 seconds")
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return NewErrorResponse(http.StatusInternalServerError, 500, "internal_error", "internal error")
}

// Questions builds n questions with ids first..first+n-1.
func Questions(first int64, n int) []stackexchange.Question {
	out := make([]stackexchange.Question, 0, n)
	for i := 0; i < n; i++ {
		id := first + int64(i)
		out = append(out, stackexchange.Question{
			QuestionID: id,
			Title:      "Question " + strconv.FormatInt(id, 10),
			Body:       "<p>Body of question " + strconv.FormatInt(id, 10) + "</p>",
			IsAnswered: true,
		})
	}
	return out
}
