package signaling

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/AnZomorodian/Globallink2/internal/registry"
	"github.com/AnZomorodian/Globallink2/pkg/protocol"
)

// Publisher fans a presence transition out beyond this process, e.g. over
// Redis pub/sub when several relay instances share a user base.
type Publisher interface {
	Publish(ctx context.Context, userID string, isOnline bool)
}

// Broadcaster pushes user_status_changed to every registered connection.
// Delivery is best effort: a slow or dead peer is skipped, never waited on.
type Broadcaster struct {
	reg *registry.Registry
	log *logrus.Logger
	pub Publisher
}

// NewBroadcaster returns a broadcaster over the given registry.
func NewBroadcaster(reg *registry.Registry, log *logrus.Logger) *Broadcaster {
	return &Broadcaster{reg: reg, log: log}
}

// SetPublisher attaches cross-instance fan-out. Optional.
func (b *Broadcaster) SetPublisher(pub Publisher) { b.pub = pub }

// Broadcast notifies local connections of a presence transition and, when a
// publisher is attached, forwards it to other instances.
func (b *Broadcaster) Broadcast(ctx context.Context, userID string, isOnline bool) {
	b.Deliver(userID, isOnline)
	if b.pub != nil {
		b.pub.Publish(ctx, userID, isOnline)
	}
}

// Deliver fans out to local connections only. The Redis bridge calls this
// for transitions that originated on another instance.
func (b *Broadcaster) Deliver(userID string, isOnline bool) {
	data, err := json.Marshal(protocol.Message{
		Type:     protocol.TypeUserStatusChanged,
		UserID:   userID,
		IsOnline: protocol.Bool(isOnline),
	})
	if err != nil {
		return
	}
	snap := b.reg.Snapshot()
	println("DEBUG deliver", userID, isOnline, "snapshot", len(snap))
	for _, client := range snap {
		println("DEBUG deliver-to", client.ID, "ok?")
		if !client.EnqueueRaw(data) {
			b.log.WithFields(logrus.Fields{"conn_id": client.ID, "user_id": userID}).
				Debug("presence fan-out skipped unreachable client")
		}
	}
}
