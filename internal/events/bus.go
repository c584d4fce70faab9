package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/careeros/careeros-back/internal/domain"
)

// DefaultChannel is the well-known channel carrying job lifecycle events.
const DefaultChannel = "careeros:jobs"

// Publisher writes discrete lifecycle events to the bus. Delivery is
// fire-and-forget; subscribers that are not connected miss the event.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Subscriber receives a live stream of lifecycle events. The returned stop
// function releases the subscription and closes the channel.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan domain.Event, func(), error)
}

// Bus combines both sides for components that publish and consume.
type Bus interface {
	Publisher
	Subscriber
}

func encodeEvent(event domain.Event) ([]byte, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return raw, nil
}
