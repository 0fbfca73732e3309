package kafkax

import (
	"github.com/segmentio/kafka-go"
)

const (
	headerEventID   = "event_id"
	headerEventType = "event_type"
)

// EventMeta identifies an event independently of its payload. Consumers use
// EventID for inbox de-duplication.
type EventMeta struct {
	EventID   string
	EventType string
}

// ExtractEventMeta reads the event headers. Producers that do not set them
// get the message key as id and the topic as type.
func ExtractEventMeta(msg kafka.Message) EventMeta {
	meta := EventMeta{
		EventID:   HeaderValue(msg.Headers, headerEventID),
		EventType: HeaderValue(msg.Headers, headerEventType),
	}
	if meta.EventID == "" {
		meta.EventID = string(msg.Key)
	}
	if meta.EventType == "" {
		meta.EventType = msg.Topic
	}
	return meta
}

// HeaderValue returns the first value stored under key.
func HeaderValue(headers []kafka.Header, key string) string {
	if i := headerIndex(headers, key); i >= 0 {
		return string(headers[i].Value)
	}
	return ""
}

func headerIndex(headers []kafka.Header, key string) int {
	for i, h := range headers {
		if h.Key == key {
			return i
		}
	}
	return -1
}
