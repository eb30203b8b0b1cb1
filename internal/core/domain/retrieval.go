package domain

type RetrievedChunk struct {
	DocumentID string  `json:"document_id"`
	Source     string  `json:"source"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// ToolDescriptor names one queryable index and tells the decomposer what it is good for.
type ToolDescriptor struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

type SubQuestion struct {
	Question string `json:"sub_question"`
	ToolName string `json:"tool_name"`
}

// SourceAttribution is one sub-answer and the chunks it was generated from.
// SubQuestion is nil when the question was answered directly.
type SourceAttribution struct {
	ToolName    string           `json:"tool_name"`
	SubQuestion *string          `json:"sub_question,omitempty"`
	Answer      string           `json:"answer"`
	Chunks      []RetrievedChunk `json:"chunks"`
}

type QueryResponse struct {
	Answer       string              `json:"answer"`
	Sources      []SourceAttribution `json:"sources"`
	SubQuestions []string            `json:"sub_questions"`
	Usage        TokenUsage          `json:"token_stats"`
}
