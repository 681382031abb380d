package stackexchange

// Question is a question returned by the search endpoint.
type Question struct {
	QuestionID       int64    `json:"question_id"`
	Title            string   `json:"title"`
	Body             string   `json:"body"`
	Link             string   `json:"link,omitempty"`
	Tags             []string `json:"tags,omitempty"`
	Score            int      `json:"score"`
	IsAnswered       bool     `json:"is_answered"`
	AcceptedAnswerID int64    `json:"accepted_answer_id,omitempty"`
	AnswerCount      int      `json:"answer_count"`
	CreationDate     int64    `json:"creation_date"`
	Owner            *Owner   `json:"owner,omitempty"`
}

// Answer is an answer returned by the answers endpoint.
type Answer struct {
	AnswerID     int64  `json:"answer_id"`
	QuestionID   int64  `json:"question_id"`
	Body         string `json:"body"`
	IsAccepted   bool   `json:"is_accepted"`
	Score        int    `json:"score"`
	CreationDate int64  `json:"creation_date"`
	Owner        *Owner `json:"owner,omitempty"`
}

// Owner is the shallow user object attached to posts.
type Owner struct {
	UserID      int64  `json:"user_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Quota holds the per-key request budget reported on every response.
type Quota struct {
	Remaining int `json:"quota_remaining"`
	Max       int `json:"quota_max"`
}

// Wrapper is the common response envelope of the StackExchange API.
// Error fields are only populated on failed requests.
type Wrapper[T any] struct {
	Items          []T    `json:"items"`
	HasMore        bool   `json:"has_more"`
	QuotaMax       int    `json:"quota_max"`
	QuotaRemaining int    `json:"quota_remaining"`
	Backoff        int    `json:"backoff,omitempty"`
	ErrorID        int    `json:"error_id,omitempty"`
	ErrorName      string `json:"error_name,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// Quota returns the quota counters carried by the envelope.
func (w *Wrapper[T]) Quota() Quota {
	return Quota{Remaining: w.QuotaRemaining, Max: w.QuotaMax}
}

// Page is one decoded page of items plus the envelope metadata
// the fetch loops need.
type Page[T any] struct {
	Items   []T
	HasMore bool
	Quota   Quota
	// Backoff is the server-issued wait in seconds before the next request (0 if absent).
	Backoff int
}
