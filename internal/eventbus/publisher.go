package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/mmo-replay/internal/logging"
	"github.com/annel0/mmo-replay/internal/replay"
)

var _ replay.EventPublisher = (*SessionPublisher)(nil)

// SessionPublisher переводит события рекордера и плеера в Envelope.
type SessionPublisher struct {
	bus     EventBus
	source  string
	timeout time.Duration
	log     *logging.Logger
}

// NewSessionPublisher публикует от имени source
func NewSessionPublisher(bus EventBus, source string, log *logging.Logger) *SessionPublisher {
	return &SessionPublisher{bus: bus, source: source, timeout: 100 * time.Millisecond, log: log}
}

// priority завершения и сохранения важнее промежуточных событий
func priority(eventType string) int {
	switch eventType {
	case replay.EventRecordSaved, replay.EventRecordStopped, replay.EventReplayFinished:
		return 7
	default:
		return 3
	}
}

// PublishEvent не блокирует тик дольше timeout
func (p *SessionPublisher) PublishEvent(eventType string, fields map[string]string) {
	if p == nil || p.bus == nil {
		return
	}
	meta := make(map[string]string, len(fields))
	for k, v := range fields {
		meta[k] = v
	}
	payload, _ := json.Marshal(meta)

	ev := &Envelope{
		ID:            uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		Source:        p.source,
		EventType:     eventType,
		Version:       1,
		CorrelationID: meta["session_id"],
		Priority:      priority(eventType),
		Payload:       payload,
		Metadata:      meta,
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.bus.Publish(ctx, ev); err != nil {
		p.log.Warn("событие %s не опубликовано: %v", eventType, err)
	}
}
