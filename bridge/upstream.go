package bridge

import (
	"context"

	"github.com/JonathanMoss/OpenRailDataGateway/input/stomp"
)

// stompUpstream adapts a stomp.Dialer to UpstreamDialer.
type stompUpstream struct {
	dialer *stomp.Dialer
}

// NewStompUpstream returns an UpstreamDialer backed by d
func NewStompUpstream(d *stomp.Dialer) UpstreamDialer {
	return stompUpstream{dialer: d}
}

func (s stompUpstream) Dial(ctx context.Context) (Upstream, error) {
	session, err := s.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return session, nil
}
