package purchases

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/projecthub-backend/pkg/db/models"
)

// GrantInput is the confirmed payment a purchase is created from.
type GrantInput struct {
	UserID    uuid.UUID
	ProjectID uuid.UUID
	SessionID string
	Amount    decimal.Decimal
	Currency  string
	Downloads int
}

// PurchaseSummary is the buyer-facing view of a purchase.
type PurchaseSummary struct {
	ID                 uuid.UUID       `json:"id"`
	ProjectID          uuid.UUID       `json:"project_id"`
	SessionID          string          `json:"session_id"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	DownloadsRemaining int             `json:"downloads_remaining"`
	Revoked            bool            `json:"revoked"`
	CreatedAt          time.Time       `json:"created_at"`
}

// PurchaseList wraps a page of purchases plus the next page cursor.
type PurchaseList struct {
	Purchases  []PurchaseSummary `json:"purchases"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

func toSummary(p models.Purchase) PurchaseSummary {
	return PurchaseSummary{
		ID:                 p.ID,
		ProjectID:          p.ProjectID,
		SessionID:          p.SessionID,
		Amount:             p.Amount,
		Currency:           p.Currency,
		DownloadsRemaining: p.DownloadsRemaining,
		Revoked:            p.RevokedAt != nil,
		CreatedAt:          p.CreatedAt,
	}
}
