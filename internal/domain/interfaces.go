package domain

import (
	"context"
	"time"

	"constructlink/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// WorkflowStore is the persistence boundary of the borrowing workflow.
// Reads never take locks; every write happens inside WithinTx.
type WorkflowStore interface {
	WithinTx(ctx context.Context, fn func(tx WorkflowTx) error) error
	GetBatch(ctx context.Context, id int64) (*models.BorrowingBatch, []*models.BorrowingItem, error)
	ListBatches(ctx context.Context, filter models.BatchFilter, now time.Time) ([]*models.BorrowingBatch, error)
	GetItemsForBatches(ctx context.Context, batchIDs []int64) (map[int64][]*models.BorrowingItem, error)
	ListAudit(ctx context.Context, batchID int64) ([]*models.AuditEntry, error)
	RecentAudit(ctx context.Context, batchID int64, limit int) ([]*models.AuditEntry, error)
	FindAuditByKey(ctx context.Context, batchID int64, key string) (*models.AuditEntry, error)
}

// WorkflowTx is one atomic unit of work against batches, items and the audit trail.
type WorkflowTx interface {
	// LockBatch loads a batch and its items and holds the row lock until the transaction ends.
	LockBatch(ctx context.Context, id int64) (*models.BorrowingBatch, []*models.BorrowingItem, error)
	FindAuditByKey(ctx context.Context, batchID int64, key string) (*models.AuditEntry, error)
	InsertBatch(ctx context.Context, batch *models.BorrowingBatch, items []*models.BorrowingItem) error
	// UpdateBatch writes the header if batch.Version still matches the stored row and bumps it.
	UpdateBatch(ctx context.Context, batch *models.BorrowingBatch) error
	UpdateItems(ctx context.Context, items []*models.BorrowingItem) error
	AppendAudit(ctx context.Context, entry *models.AuditEntry) error
}

// RateLimiter counts workflow writes per actor inside a fixed window.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, actorID int64, limit int, window time.Duration) (bool, error)
}

// OnceMarker reports true only the first time key is marked within ttl.
// Unmark forgets a mark so the next MarkOnce succeeds again.
type OnceMarker interface {
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unmark(ctx context.Context, key string) error
}

// SharedState backs rate limits and alert de-duplication.
type SharedState interface {
	RateLimiter
	OnceMarker
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}
