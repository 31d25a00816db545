package feed

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/m-mizutani/meshsim/pkg/adapter"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/m-mizutani/meshsim/pkg/utils/logging"
)

const relayBuffer = 256

type relayItem struct {
	topic   string
	id      model.MessageID
	payload []byte
}

// MQTTRelay republishes bus messages to an MQTT broker under
// <prefix>/<type>/<to>. Messages are queued and published by a background
// goroutine; when the queue is full they are dropped.
type MQTTRelay struct {
	pub    adapter.Publisher
	prefix string

	mu     sync.Mutex
	closed bool
	queue  chan relayItem
	done   chan struct{}
}

// NewMQTTRelay creates a relay publishing below prefix and starts its
// publisher goroutine. Call Close to stop it.
func NewMQTTRelay(pub adapter.Publisher, prefix string) *MQTTRelay {
	r := &MQTTRelay{
		pub:    pub,
		prefix: strings.TrimSuffix(prefix, "/"),
		queue:  make(chan relayItem, relayBuffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Topic returns the topic msg is published to
func (r *MQTTRelay) Topic(msg *model.Message) string {
	return r.prefix + "/" + string(msg.Type) + "/" + string(msg.To)
}

// Publish is a bus listener. It never waits for the broker.
func (r *MQTTRelay) Publish(msg *model.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Default().Warn("failed to marshal relay message", "error", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	select {
	case r.queue <- relayItem{topic: r.Topic(msg), id: msg.ID, payload: data}:
	default:
		logging.Default().Warn("MQTT relay queue is full, dropping message", "message_id", msg.ID)
	}
}

func (r *MQTTRelay) run() {
	defer close(r.done)
	for item := range r.queue {
		if err := r.pub.Publish(item.topic, item.payload); err != nil {
			logging.Default().Warn("failed to relay message", "message_id", item.id, "error", err)
		}
	}
}

// Close stops accepting messages and waits until the queued ones are
// published
func (r *MQTTRelay) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	<-r.done
}
