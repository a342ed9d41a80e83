package queue

import (
	"time"

	"github.com/queuey-io/queuey/internal/storage"
	"github.com/queuey-io/queuey/internal/timeuuid"
)

// MessageIDToken is a parsed `[<partition>:]<32-hex>` token from a
// message-id batch path segment. Partition defaults to 1 when the token
// carries no prefix (spec §4.D "Delete semantics").
type MessageIDToken struct {
	Partition int
	ID        timeuuid.ID
}

// PushMessage is one message to insert, already validated and coerced by
// the validate layer. Partition == 0 means "pick at random".
type PushMessage struct {
	Body      []byte
	Partition int
	TTL       time.Duration
	Metadata  map[string]string
	// Timestamp selects update-in-place (ID) or a backdated new message
	// (Decimal); nil means "generate a fresh id now".
	Timestamp *storage.At
}

// MessageDTO is one message as rendered in an HTTP response.
type MessageDTO struct {
	MessageID string
	Timestamp string
	Body      []byte
	Partition int
	Metadata  map[string]string
}

// PushResultDTO is one push's outcome as rendered in an HTTP response.
type PushResultDTO struct {
	Key       string
	Timestamp string
	Partition int
}

// GetOptions configures Engine.GetMessages.
type GetOptions struct {
	Partitions      []int // defaults to {1} if empty
	Limit           int
	Since           *storage.At
	Order           storage.Order
	IncludeMetadata bool
}

// ListOptions configures Engine.ListQueues.
type ListOptions struct {
	Limit        int
	Offset       string
	Details      bool
	IncludeCount bool
}

// QueueView is one row of a queue listing.
type QueueView struct {
	Name       string
	Partitions int
	Type       string
	Consistency string
	Principals []string
	Created    float64
}
