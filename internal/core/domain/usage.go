package domain

type LLMTokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type TokenUsage struct {
	EmbeddingTokens int           `json:"embedding_tokens"`
	LLM             LLMTokenUsage `json:"llm_tokens"`
}

func (u TokenUsage) LLMTokens() int {
	return u.LLM.TotalTokens
}
