package bridge

import (
	"time"

	"github.com/JonathanMoss/OpenRailDataGateway/input/stomp"
	"github.com/JonathanMoss/OpenRailDataGateway/pkg/timestamp"
)

// ContentTypeText is the content type of every forwarded message
const ContentTypeText = "text/plain"

// PublishRequest is one message ready for the downstream broker.
type PublishRequest struct {
	// RoutingKey is the feed message type, empty when the frame had none
	RoutingKey  string
	ContentType string
	Persistent  bool
	Body        []byte

	// MessageID and Timestamp carry the upstream message-id and timestamp
	// headers when present; zero values mean absent.
	MessageID string
	Timestamp time.Time
}

// Translate maps a decoded message to a publish request. It does no I/O and
// always succeeds; the same message always yields an equal request.
func Translate(msg stomp.Message) PublishRequest {
	req := PublishRequest{
		ContentType: ContentTypeText,
		Persistent:  true,
		Body:        msg.Payload,
		MessageID:   msg.MessageID(),
	}
	if msg.HasType {
		req.RoutingKey = msg.Type
	}
	if msg.Header != nil {
		req.Timestamp = timestamp.ParseHeader(msg.Header.Get(stomp.HeaderTimestamp))
	}
	return req
}
