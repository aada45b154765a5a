package persistence

import (
	"context"
	"fmt"

	"github.com/parley-labs/parley/model"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

type NotFoundError struct {
	Kind string
	Id   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Id)
}

// SessionStore is the durable, cached, per-conversation state store.
//
// Load returns (nil, nil) when no session exists or the durable store is
// unreachable; the caller treats both as a fresh conversation. Save failures
// are propagated since losing a write silently would break idempotent retry.
type SessionStore interface {
	Load(ctx context.Context, id string) (*model.Session, error)
	Save(ctx context.Context, id string, partial *model.Session) error
	InvalidateCache(id string)
	Terminate(ctx context.Context, id string) error
	// GetPreferences reads the durable preferences extracted from terminated
	// sessions of this identity.
	GetPreferences(ctx context.Context, id string) (map[string]string, error)

	EnqueueMessage(ctx context.Context, id string, payload map[string]any) error
	PeekMessages(ctx context.Context, id string) ([]model.OutboundMessage, error)
	// AcknowledgeMessages removes the count oldest unacknowledged messages;
	// count <= 0 acknowledges all.
	AcknowledgeMessages(ctx context.Context, id string, count int) error

	ClearAuthFields(ctx context.Context, id string) error
	ClearTransientOrderFields(ctx context.Context, id string) error
}

type DefinitionStorage interface {
	SaveDefinition(def model.FlowDefinition) error
	GetDefinition(id string) (*model.FlowDefinition, error)
	DeleteDefinition(id string) error
	ListDefinitions() ([]model.FlowDefinition, error)
}
