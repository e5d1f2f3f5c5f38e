package models

import "time"

// UsagePrefix is the TypeID prefix of usage record ids.
const UsagePrefix = "usage"

// TokenUsage is the token accounting reported by the AI service.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// UsageRecord is one billed (or trial) analysis. Append-only.
type UsageRecord struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	CostCredits int64      `json:"cost_credits"`
	FileName    string     `json:"file_name"`
	TokenUsage  TokenUsage `json:"token_usage"`
	Trial       bool       `json:"trial"`
	Timestamp   time.Time  `json:"timestamp"`
}

// Reconciliation describes an analysis that produced a result but could not
// be charged. It is handed to an operator-visible queue.
type Reconciliation struct {
	SessionID   string     `json:"session_id"`
	UserID      string     `json:"user_id"`
	CostCredits int64      `json:"cost_credits"`
	FileName    string     `json:"file_name"`
	TokenUsage  TokenUsage `json:"token_usage"`
	Reason      string     `json:"reason"`
}
