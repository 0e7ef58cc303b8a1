package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/loomhq/loom/pkg/events"
)

const subscriberBuffer = 256

type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber) EventBus {
	return &WatermillEventBus{
		publisher:  pub,
		subscriber: sub,
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, topic, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))
	msg.SetContext(ctx)

	return eb.publisher.Publish(topic, msg)
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context, topic string) (<-chan Envelope, error) {
	messages, err := eb.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}

	out := make(chan Envelope, subscriberBuffer)

	go func() {
		defer close(out)

		for msg := range messages {
			eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

			event, err := decodeEvent(eventType, msg.Payload)
			if err != nil {
				msg.Nack()

				continue
			}

			envelope := Envelope{
				Type:  eventType,
				Key:   msg.Metadata.Get(events.EventMetadataKey),
				Event: event,
			}

			// Never block the bus on a slow consumer; dropped envelopes
			// are recovered by the consumer's resync path.
			select {
			case out <- envelope:
			default:
			}

			msg.Ack()
		}
	}()

	return out, nil
}

func decodeEvent(eventType events.EventType, payload []byte) (any, error) {
	var event any

	switch eventType {
	case events.OperationAppliedEvent:
		event = &events.OperationApplied{}
	case events.LockAcquiredEvent:
		event = &events.LockAcquired{}
	case events.LockReleasedEvent:
		event = &events.LockReleased{}
	case events.PresenceUpdatedEvent:
		event = &events.PresenceUpdated{}
	case events.ExecutionStartedEvent:
		event = &events.ExecutionStarted{}
	case events.ExecutionUpdatedEvent:
		event = &events.ExecutionUpdated{}
	case events.ExecutionCompletedEvent:
		event = &events.ExecutionCompleted{}
	case events.ExecutionFailedEvent:
		event = &events.ExecutionFailed{}
	case events.NodeStartedEvent:
		event = &events.NodeStarted{}
	case events.NodeCompletedEvent:
		event = &events.NodeCompleted{}
	case events.NodeFailedEvent:
		event = &events.NodeFailed{}
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}

	if err := json.Unmarshal(payload, event); err != nil {
		return nil, err
	}

	return event, nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
