package stomp

import (
	"bytes"
	"strings"
	"testing"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonathanMoss/OpenRailDataGateway/errors"
)

func deflate(t *testing.T, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	_, err := zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func messageFrame(headers string, body []byte) []byte {
	return append([]byte("MESSAGE\n"+headers+"\n"), body...)
}

func TestDecode_Uncompressed(t *testing.T) {
	raw := messageFrame("MessageType:TS\nmessage-id:ID:1\n", []byte("<Pport/>"))

	msg, err := Decoder{}.Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, frame.MESSAGE, msg.Command)
	assert.True(t, msg.HasType)
	assert.Equal(t, "TS", msg.Type)
	assert.False(t, msg.Compressed)
	assert.Equal(t, "<Pport/>", string(msg.Payload))
	assert.Equal(t, "ID:1", msg.MessageID())

	// The payload must not alias the frame.
	raw[len(raw)-1] = 'X'
	assert.Equal(t, "<Pport/>", string(msg.Payload))
}

func TestDecode_ZlibRoundTrip(t *testing.T) {
	small := []byte("<Pport><uR><TS rid=\"1\"/></uR></Pport>")

	tests := []struct {
		name    string
		payload []byte
	}{
		{"small", small},
		{"highly compressible 50x", bytes.Repeat([]byte("A"), 50*len(small))},
		{"repeated document", bytes.Repeat(small, 50)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := messageFrame("MessageType:SC\nCompression:zlib\n", deflate(t, tt.payload))

			msg, err := Decoder{}.Decode(raw)
			require.NoError(t, err)
			assert.True(t, msg.Compressed)
			assert.Equal(t, "zlib", msg.Codec)
			assert.Equal(t, tt.payload, msg.Payload)
		})
	}
}

func TestDecode_CodecName(t *testing.T) {
	body := deflate(t, []byte("hello"))

	msg, err := Decoder{}.Decode(messageFrame("Compression: zlib \n", body))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(msg.Payload))

	for _, codec := range []string{"ZLIB", "Zlib"} {
		_, err := Decoder{}.Decode(messageFrame("Compression:"+codec+"\n", body))
		assert.ErrorIs(t, err, errors.ErrDecompressionFault, codec)
	}
}

func TestDecode_UnescapesHeaders(t *testing.T) {
	raw := []byte("MESSAGE\nMessageType:T\\cS\nmessage-id:ID\\\\1\\n2\nurl:http://x:1/y\nbad:a\\tb\n\nbody")

	msg, err := Decoder{}.Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, "T:S", msg.Type)
	assert.Equal(t, "ID\\1\n2", msg.MessageID())
	assert.Equal(t, "http://x:1/y", msg.Header.Get("url"))
	assert.Equal(t, `a\tb`, msg.Header.Get("bad"))
}

func TestDecode_Faults(t *testing.T) {
	valid := deflate(t, []byte("payload"))

	tests := []struct {
		name string
		raw  []byte
		want error
	}{
		{"unsupported codec", messageFrame("Compression:gzip\n", []byte("data")), errors.ErrDecompressionFault},
		{"corrupt stream", messageFrame("Compression:zlib\n", []byte("not zlib at all")), errors.ErrDecompressionFault},
		{"truncated stream", messageFrame("Compression:zlib\n", valid[:len(valid)-4]), errors.ErrDecompressionFault},
		{"inflates to nothing", messageFrame("Compression:zlib\n", deflate(t, nil)), errors.ErrDecompressionFault},
		{"no separator", []byte("MESSAGE\nMessageType:TS\nbody"), errors.ErrMalformedFrame},
		{"empty body", messageFrame("MessageType:TS\n", nil), errors.ErrMalformedFrame},
		{"error frame", []byte("ERROR\nmessage:bad\n\ndetails"), errors.ErrMalformedFrame},
		{"receipt frame", []byte("RECEIPT\nreceipt-id:1\n\nx"), errors.ErrMalformedFrame},
		{"heart-beat only", []byte("\n\n"), errors.ErrMalformedFrame},
		{"header without colon", []byte("MESSAGE\nbogus\n\nbody"), errors.ErrMalformedFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decoder{}.Decode(tt.raw)
			require.ErrorIs(t, err, tt.want)
			assert.True(t, errors.IsMessageFault(err))
			assert.False(t, errors.IsUpstreamFault(err))
		})
	}
}

func TestDecode_PayloadLimit(t *testing.T) {
	payload := bytes.Repeat([]byte("z"), 4096)
	raw := messageFrame("Compression:zlib\n", deflate(t, payload))

	_, err := Decoder{MaxPayloadBytes: 1024}.Decode(raw)
	require.ErrorIs(t, err, errors.ErrDecompressionFault)
	assert.ErrorIs(t, err, errPayloadTooBig)

	msg, err := Decoder{MaxPayloadBytes: len(payload)}.Decode(raw)
	require.NoError(t, err)
	assert.Len(t, msg.Payload, len(payload))
}

func TestDecode_HeadersPreserved(t *testing.T) {
	raw := []byte("\n\r\nMESSAGE\r\ndestination:/topic/darwin.pushport-v16\r\nurl:http://x:1/y\r\nPushPortSequence:123\r\n\r\nbody")

	msg, err := Decoder{}.Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, "/topic/darwin.pushport-v16", msg.Header.Get(frame.Destination))
	assert.Equal(t, "http://x:1/y", msg.Header.Get("url"), "split at the first colon only")
	assert.Equal(t, "123", msg.Header.Get("PushPortSequence"))
	assert.False(t, msg.HasType)
	assert.Equal(t, "body", string(msg.Payload))
}

func TestDecode_NoCommandLine(t *testing.T) {
	msg, err := Decoder{}.Decode([]byte("MessageType:OW\n\n<ow/>"))
	require.NoError(t, err)
	assert.Empty(t, msg.Command)
	assert.Equal(t, "OW", msg.Type)
}

func TestDecode_EmptyTypeValue(t *testing.T) {
	msg, err := Decoder{}.Decode(messageFrame("MessageType:\n", []byte("x")))
	require.NoError(t, err)
	assert.True(t, msg.HasType)
	assert.Empty(t, msg.Type)
}

func TestDecode_BodyKeepsTrailingBytes(t *testing.T) {
	body := "line1\nline2\n"
	msg, err := Decoder{}.Decode(messageFrame("", []byte(body)))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(msg.Payload), "line2\n"))
}
