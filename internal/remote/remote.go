// Package remote simulates the cloud side of entity synchronization.
// Snapshots are versioned JSON blobs pushed and pulled by entity kind
// and id; no wire protocol is defined, the Target contract is the
// whole surface.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot is one entity's state as the remote side holds it.
type Snapshot struct {
	Kind      string          `json:"kind"`
	EntityID  int64           `json:"entity_id"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	Payload   json.RawMessage `json:"payload"`
}

// NewSnapshot marshals an entity into a Snapshot.
func NewSnapshot(kind string, entityID, version int64, updatedAt time.Time, entity interface{}) (Snapshot, error) {
	payload, err := json.Marshal(entity)
	if err != nil {
		return Snapshot{}, fmt.Errorf("marshal %s snapshot: %w", kind, err)
	}
	return Snapshot{
		Kind:      kind,
		EntityID:  entityID,
		Version:   version,
		UpdatedAt: updatedAt,
		Payload:   payload,
	}, nil
}

// Target is the simulated remote store. Pull returns (nil, nil) when
// the remote has no snapshot for the entity.
type Target interface {
	Push(ctx context.Context, snap Snapshot) error
	Pull(ctx context.Context, kind string, entityID int64) (*Snapshot, error)
	Delete(ctx context.Context, kind string, entityID int64) error
	Clear(ctx context.Context) error
}
