package stomp

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/klauspost/compress/zlib"

	"github.com/JonathanMoss/OpenRailDataGateway/errors"
)

// Feed-specific header names
const (
	HeaderMessageType = "MessageType"
	HeaderCompression = "Compression"
	HeaderTimestamp   = "timestamp"

	// CodecZlib is the only compression the feed uses
	CodecZlib = "zlib"
)

const (
	// DefaultMaxPayloadBytes bounds an inflated payload
	DefaultMaxPayloadBytes = 64 << 20
)

var (
	errFrameTooLarge  = stderrors.New("frame exceeds maximum size")
	errNoSeparator    = stderrors.New("no blank line between headers and body")
	errEmptyBody      = stderrors.New("empty body")
	errPayloadTooBig  = stderrors.New("inflated payload exceeds maximum size")
	errEmptyInflation = stderrors.New("compressed body inflated to nothing")
)

// headerUnescaper reverses the STOMP 1.2 header escapes. Unknown escapes
// are left as they are.
var headerUnescaper = strings.NewReplacer(`\\`, `\`, `\c`, ":", `\n`, "\n", `\r`, "\r")

// Message is a decoded MESSAGE frame. Payload is owned by the Message and
// never aliases the reader buffer.
type Message struct {
	// Command is the frame's command line, empty when the frame had none
	Command string
	// Header holds every header line in arrival order, unknown ones included
	Header *frame.Header

	Type       string
	HasType    bool
	Codec      string
	Compressed bool
	Payload    []byte
}

// MessageID returns the broker-assigned message-id header, if any
func (m Message) MessageID() string {
	if m.Header == nil {
		return ""
	}
	return m.Header.Get(frame.MessageId)
}

// Decoder turns raw frames into Messages.
type Decoder struct {
	// MaxPayloadBytes caps the inflated payload; <= 0 selects DefaultMaxPayloadBytes
	MaxPayloadBytes int
}

// Decode parses one frame as returned by FrameReader.Next.
//
// A frame that is not a MESSAGE, lacks the header/body separator, or has an
// empty body fails with errors.ErrMalformedFrame. An unsupported codec, a
// corrupt compressed body, or an oversized inflated payload fails with
// errors.ErrDecompressionFault. Both only affect this one frame.
func (d Decoder) Decode(raw []byte) (Message, error) {
	// Heart-beats arrive as bare EOLs ahead of the next frame.
	raw = bytes.TrimLeft(raw, "\r\n")

	head, body, ok := cutHeaders(raw)
	if !ok {
		return Message{}, malformed(errNoSeparator)
	}

	msg := Message{Header: frame.NewHeader()}
	for i, line := range strings.Split(string(head), "\n") {
		line = strings.TrimSuffix(line, "\r")
		key, value, found := strings.Cut(line, ":")
		if !found {
			if i == 0 {
				msg.Command = line
				continue
			}
			return Message{}, malformed(fmt.Errorf("header line %q has no colon", line))
		}
		msg.Header.Add(headerUnescaper.Replace(key), headerUnescaper.Replace(value))
	}

	if msg.Command != "" && msg.Command != frame.MESSAGE {
		return Message{}, malformed(fmt.Errorf("unexpected %s frame", msg.Command))
	}
	if len(body) == 0 {
		return Message{}, malformed(errEmptyBody)
	}

	msg.Type, msg.HasType = msg.Header.Contains(HeaderMessageType)
	msg.Codec = strings.TrimSpace(msg.Header.Get(HeaderCompression))

	switch {
	case msg.Codec == "":
		msg.Payload = bytes.Clone(body)
	case msg.Codec == CodecZlib:
		payload, err := inflate(body, d.maxPayload())
		if err != nil {
			return Message{}, errors.Fault(errors.ErrDecompressionFault, err,
				"Decoder", "Decode", "inflate zlib body")
		}
		msg.Compressed = true
		msg.Payload = payload
	default:
		return Message{}, errors.Fault(errors.ErrDecompressionFault,
			fmt.Errorf("unsupported codec %q", msg.Codec),
			"Decoder", "Decode", "select codec")
	}

	return msg, nil
}

func (d Decoder) maxPayload() int {
	if d.MaxPayloadBytes <= 0 {
		return DefaultMaxPayloadBytes
	}
	return d.MaxPayloadBytes
}

// cutHeaders splits at the first blank line, accepting LF or CRLF line ends.
func cutHeaders(raw []byte) (head, body []byte, ok bool) {
	lf := bytes.Index(raw, []byte("\n\n"))
	crlf := bytes.Index(raw, []byte("\r\n\r\n"))
	switch {
	case lf < 0 && crlf < 0:
		return nil, nil, false
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return raw[:crlf], raw[crlf+4:], true
	default:
		return raw[:lf], raw[lf+2:], true
	}
}

// inflate decompresses a zlib stream into a buffer that grows as needed.
func inflate(body []byte, limit int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var out bytes.Buffer
	out.Grow(2 * len(body))

	// One byte past the limit tells an exact fit apart from an overflow.
	n, err := out.ReadFrom(io.LimitReader(zr, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if n > int64(limit) {
		return nil, errPayloadTooBig
	}
	if n == 0 {
		return nil, errEmptyInflation
	}
	return out.Bytes(), nil
}

func malformed(cause error) error {
	return errors.Fault(errors.ErrMalformedFrame, cause, "Decoder", "Decode", "parse frame")
}
