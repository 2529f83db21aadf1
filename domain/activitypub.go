package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActivityRecord is an inbound activity kept for deduplication and debugging.
type ActivityRecord struct {
	Id           uuid.UUID
	ActivityURI  string
	ActivityType string // Follow, Accept, Create
	ActorURI     string
	ObjectURI    string
	RawJSON      string
	Processed    bool
	CreatedAt    time.Time
	Local        bool // true if originated from this server
}

// DeliveryTask is one queued delivery of an activity to one inbox.
// It carries the sender's id, never its key.
type DeliveryTask struct {
	Id         uuid.UUID
	ActivityId string
	ActorId    string
	InboxURI   string
	Body       []byte
	CreatedAt  time.Time
}
