package testutil

import (
	"bufio"
	"net"
	"strconv"
	"sync"
	"testing"
)

// FeedServer is a minimal STOMP server on 127.0.0.1. Each connection is
// answered with CONNECTED, and after SUBSCRIBE receives every frame queued
// with Send. Closing a connection from the server side is done with Drop.
type FeedServer struct {
	ln     net.Listener
	frames chan []byte
	done   chan struct{}

	mu       sync.Mutex
	received []string
	conns    []net.Conn
	accepted int
	wg       sync.WaitGroup
}

// NewFeedServer starts a server that is closed by t.Cleanup.
func NewFeedServer(t testing.TB) *FeedServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	s := &FeedServer{
		ln:     ln,
		frames: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.accept()
	t.Cleanup(s.Close)
	return s
}

// Host returns the listening host
func (s *FeedServer) Host() string {
	return s.ln.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listening port
func (s *FeedServer) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Addr returns host:port
func (s *FeedServer) Addr() string {
	return net.JoinHostPort(s.Host(), strconv.Itoa(s.Port()))
}

// Send queues a raw frame for the subscribed connection
func (s *FeedServer) Send(frame []byte) {
	s.frames <- frame
}

// Received returns the client frames seen so far, terminators included
func (s *FeedServer) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

// Accepted returns the number of connections accepted
func (s *FeedServer) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Drop closes every open connection, simulating a server restart
func (s *FeedServer) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

// Close stops the server
func (s *FeedServer) Close() {
	select {
	case <-s.done:
		return
	default:
	}
	close(s.done)
	_ = s.ln.Close()
	s.Drop()
	s.wg.Wait()
}

func (s *FeedServer) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.accepted++
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *FeedServer) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	r := bufio.NewReader(conn)
	if !s.expect(r) {
		return
	}
	if _, err := conn.Write([]byte("CONNECTED\nversion:1.2\nserver:testutil\n\n\x00")); err != nil {
		return
	}
	if !s.expect(r) {
		return
	}

	for {
		select {
		case frame := <-s.frames:
			if _, err := conn.Write(frame); err != nil {
				// Keep the frame for the next subscriber.
				s.frames <- frame
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *FeedServer) expect(r *bufio.Reader) bool {
	frame, err := r.ReadBytes(0)
	if err != nil {
		return false
	}
	s.mu.Lock()
	s.received = append(s.received, string(frame))
	s.mu.Unlock()
	return true
}
