package testutil

import (
	"bytes"
	"strings"

	"github.com/klauspost/compress/zlib"
)

// SamplePushPort is a small Darwin push port document
const SamplePushPort = `<?xml version="1.0" encoding="UTF-8"?>` +
	`<Pport xmlns="http://www.thalesgroup.com/rtti/PushPort/v16" ts="2023-11-14T22:13:20.123Z" version="16.0">` +
	`<uR updateOrigin="TD"><TS rid="202311147654321" uid="C12345" ssd="2023-11-14">` +
	`<Location tpl="EUSTON" wtd="22:15" ptd="22:15"><dep et="22:17" src="TD"/></Location>` +
	`</TS></uR></Pport>`

// MessageFrame renders a MESSAGE frame, terminator included. headers are
// alternating keys and values.
func MessageFrame(body []byte, headers ...string) []byte {
	var b bytes.Buffer
	b.WriteString("MESSAGE\n")
	for i := 0; i+1 < len(headers); i += 2 {
		b.WriteString(headers[i])
		b.WriteByte(':')
		b.WriteString(headers[i+1])
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.Write(body)
	b.WriteString("\n\x00")
	return b.Bytes()
}

// Zlib compresses payload. The result may contain the LF NUL terminator;
// see SafeZlib.
func Zlib(payload []byte) []byte {
	var b bytes.Buffer
	w := zlib.NewWriter(&b)
	_, _ = w.Write(payload)
	_ = w.Close()
	return b.Bytes()
}

// SafeZlib pads payload with trailing spaces until its compressed form holds
// no LF NUL pair, and returns the padded payload with its compressed bytes.
func SafeZlib(payload string) (string, []byte) {
	for pad := 0; ; pad++ {
		p := payload + strings.Repeat(" ", pad)
		z := Zlib([]byte(p))
		if !bytes.Contains(z, []byte{'\n', 0}) && z[len(z)-1] != '\n' {
			return p, z
		}
	}
}
