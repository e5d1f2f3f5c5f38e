package mongo

import (
	"time"

	"github.com/thereal-baitjet/Stream-Slicer/internal/models"
)

type accountModel struct {
	UserID           string    `bson:"_id"`
	Credits          int64     `bson:"credits"`
	HasUsedFreeTrial bool      `bson:"has_used_free_trial"`
	CreatedAt        time.Time `bson:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at"`
}

func (m *accountModel) toAccount() *models.Account {
	return &models.Account{
		UserID:           m.UserID,
		Credits:          m.Credits,
		HasUsedFreeTrial: m.HasUsedFreeTrial,
		CreatedAt:        m.CreatedAt.UTC(),
		UpdatedAt:        m.UpdatedAt.UTC(),
	}
}

type usageModel struct {
	ID               string    `bson:"_id"`
	UserID           string    `bson:"user_id"`
	CostCredits      int64     `bson:"cost_credits"`
	FileName         string    `bson:"file_name"`
	PromptTokens     int64     `bson:"prompt_tokens"`
	CompletionTokens int64     `bson:"completion_tokens"`
	Trial            bool      `bson:"trial"`
	CreatedAt        time.Time `bson:"created_at"`
}

func toUsageModel(r *models.UsageRecord) *usageModel {
	return &usageModel{
		ID:               r.ID,
		UserID:           r.UserID,
		CostCredits:      r.CostCredits,
		FileName:         r.FileName,
		PromptTokens:     r.TokenUsage.PromptTokens,
		CompletionTokens: r.TokenUsage.CompletionTokens,
		Trial:            r.Trial,
		CreatedAt:        r.Timestamp.UTC(),
	}
}

func (m *usageModel) toRecord() *models.UsageRecord {
	return &models.UsageRecord{
		ID:          m.ID,
		UserID:      m.UserID,
		CostCredits: m.CostCredits,
		FileName:    m.FileName,
		TokenUsage:  models.TokenUsage{PromptTokens: m.PromptTokens, CompletionTokens: m.CompletionTokens},
		Trial:       m.Trial,
		Timestamp:   m.CreatedAt.UTC(),
	}
}

type paymentModel struct {
	ID          string    `bson:"_id"`
	UserID      string    `bson:"user_id"`
	AmountCents int64     `bson:"amount_cents"`
	Credits     int64     `bson:"credits"`
	CreatedAt   time.Time `bson:"created_at"`
}

type userModel struct {
	ID           string    `bson:"_id"`
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"password_hash"`
	CreatedAt    time.Time `bson:"created_at"`
}
