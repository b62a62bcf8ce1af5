package realtime

import (
	"encoding/json"
	"fmt"
	"log/slog"

	v1 "tuthub/contracts/chat/v1"
)

// Bus fans a delivery event out to every connection registered under a room
// at publish time. Nothing is retained: late joiners never see past events.
//
// Each member has its own bounded queue drained by its own writer goroutine, so a
// slow member cannot stall the others. A member whose queue is full is closed
// and left to its handler to deregister.
type Bus struct {
	log     *slog.Logger
	dir     *Directory
	metrics *Metrics
}

// NewBus constructs a Bus over dir.
func NewBus(log *slog.Logger, dir *Directory, metrics *Metrics) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{log: log, dir: dir, metrics: metrics}
}

// Publish encodes d once and enqueues it to each current member of roomKey.
// It never blocks and returns the number of members it reached.
func (b *Bus) Publish(roomKey string, d v1.Delivery) (int, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return 0, fmt.Errorf("encode delivery: %w", err)
	}
	return b.PublishRaw(roomKey, payload), nil
}

// PublishRaw enqueues an already-encoded frame to each current member of roomKey.
func (b *Bus) PublishRaw(roomKey string, payload []byte) int {
	members := b.dir.Members(roomKey)

	delivered, failed := 0, 0
	for _, m := range members {
		select {
		case <-m.Done():
			continue
		default:
		}

		select {
		case m.Send <- payload:
			delivered++
		default:
			failed++
			b.log.Info("bus.delivery.fail", "room_key", roomKey, "conn_id", m.ID, "reason", "queue_full")
			m.Close()
		}
	}

	b.metrics.deliveries(delivered, failed)
	return delivered
}
