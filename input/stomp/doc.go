// Package stomp implements the upstream side of the gateway: the subset of
// STOMP needed to subscribe to a feed topic and read MESSAGE frames.
//
// The package has three layers:
//
//   - FrameReader splits a byte stream into frames terminated by LF NUL,
//     reusing one buffer and carrying partial frames between reads.
//   - Decoder parses a frame into a Message, inflating zlib bodies named by
//     the Compression header.
//   - Dialer and Session own the socket: CONNECT, CONNECTED, SUBSCRIBE, then
//     context-aware reads with an idle deadline derived from heart-beats.
//
// Faults wrap the sentinels in the errors package. Read and handshake
// failures invalidate the session; decoder faults affect one frame only.
//
// Usage:
//
//	d, err := stomp.NewDialer(cfg.Upstream, stomp.Deps{Logger: logger})
//	s, err := d.Dial(ctx)
//	defer s.Close()
//	for {
//		raw, err := s.Next(ctx)
//		if err != nil {
//			return err
//		}
//		msg, err := stomp.Decoder{}.Decode(raw)
//		...
//	}
package stomp
