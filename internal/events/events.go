package events

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/SinaiDivine/Banking-Online-System-Group-Work/internal/domain"
)

// Publisher delivers committed ledger facts to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body any) error
	Close()
}

// TransactionEvent is the payload published for every committed log record.
type TransactionEvent struct {
	EventID string                   `json:"event_id"`
	Record  domain.TransactionRecord `json:"record"`
}

func NewTransactionEvent(rec domain.TransactionRecord) TransactionEvent {
	return TransactionEvent{EventID: uuid.NewString(), Record: rec}
}

// RoutingKey returns the topic a record is published under,
// e.g. "ledger.transaction.transfer_out".
func RoutingKey(kind domain.Kind) string {
	slug := strings.ToLower(string(kind))
	slug = strings.NewReplacer(" ", "_", "/", "_").Replace(slug)
	return "ledger.transaction." + slug
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }
func (NopPublisher) Close()                                     {}
