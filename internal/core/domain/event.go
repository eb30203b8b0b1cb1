package domain

import "time"

const (
	EventQueryAnswered = "query.answered"
	EventIndexRebuilt  = "index.rebuilt"
)

type QueryAnsweredEvent struct {
	ID           string     `json:"id"`
	Type         string     `json:"type"`
	SubQuestions int        `json:"sub_questions"`
	Sources      int        `json:"sources"`
	Usage        TokenUsage `json:"token_stats"`
	DurationMS   int64      `json:"duration_ms"`
	At           time.Time  `json:"at"`
}

type IndexRebuiltEvent struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	StoragePath string    `json:"storage_path"`
	Reason      string    `json:"reason"`
	Documents   int       `json:"documents"`
	Records     int       `json:"records"`
	EmbedTokens int       `json:"embedding_tokens"`
	At          time.Time `json:"at"`
}
