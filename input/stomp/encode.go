package stomp

import (
	"bytes"
	"strconv"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

const (
	protocolVersion = "1.2"
	ackAuto         = "auto"

	headerClientID         = "client-id"
	headerSubscriptionName = "activemq.subscriptionName"
)

// ConnectFrame renders the CONNECT frame. The heart-beat header, when hb is
// positive, asks the server to send heart-beats every hb and promises none.
// CONNECT headers are never escaped, so credentials go out verbatim.
func ConnectFrame(login, passcode, clientID string, hb time.Duration) []byte {
	headers := []string{
		frame.Login, login,
		frame.Passcode, passcode,
		frame.AcceptVersion, protocolVersion,
	}
	if clientID != "" {
		headers = append(headers, headerClientID, clientID)
	}
	if hb > 0 {
		headers = append(headers, frame.HeartBeat, "0,"+strconv.FormatInt(hb.Milliseconds(), 10))
	}

	var buf bytes.Buffer
	buf.WriteString(frame.CONNECT)
	buf.WriteByte('\n')
	for i := 0; i < len(headers); i += 2 {
		buf.WriteString(headers[i])
		buf.WriteByte(':')
		buf.WriteString(headers[i+1])
		buf.WriteByte('\n')
	}
	buf.WriteString("\n\x00")
	return buf.Bytes()
}

// SubscribeFrame renders the SUBSCRIBE frame for destination with automatic
// acknowledgement. A non-empty subscription name makes it durable.
func SubscribeFrame(destination, subscriptionName string) []byte {
	f := frame.New(frame.SUBSCRIBE,
		frame.Destination, destination,
		frame.Ack, ackAuto,
	)
	if subscriptionName != "" {
		f.Header.Add(frame.Id, subscriptionName)
		f.Header.Add(headerSubscriptionName, subscriptionName)
	}
	return render(f)
}

// render writes f with go-stomp's encoder, which escapes header values.
func render(f *frame.Frame) []byte {
	var buf bytes.Buffer
	// Writes to a bytes.Buffer cannot fail.
	_ = frame.NewWriter(&buf).Write(f)
	return buf.Bytes()
}
