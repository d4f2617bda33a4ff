package http1

import (
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/watt-toolkit/spark/pkg/spark/memory"
)

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			accepted <- nil
			return
		}
		accepted <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	server = <-accepted
	if server == nil {
		t.Fatal("accept failed")
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestConnTransportTimeout(t *testing.T) {
	_, server := tcpPair(t)
	stream := NewStream(NewConnTransport(server), nil, StreamOptions{PollTimeout: 50 * time.Millisecond})

	start := time.Now()
	err := stream.Fill(1)
	if !errors.Is(err, ErrTransportTimeout) {
		t.Fatalf("err = %v, want %v", err, ErrTransportTimeout)
	}
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Errorf("cause lost: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Fill returned after %v", elapsed)
	}
}

func TestConnTransportData(t *testing.T) {
	client, server := tcpPair(t)
	tr := NewConnTransport(server)

	go func() {
		time.Sleep(10 * time.Millisecond)
		client.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	}()

	scope := memory.NewScope(nil)
	defer scope.Close()
	stream := NewStream(tr, scope.Heap(), StreamOptions{PollTimeout: time.Second})
	scope.Defer(stream.Release)
	dec := NewDecoder(stream, scope, DecoderOptions{})

	req, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if req.Method != MethodGET || req.Path.Raw != "/" {
		t.Errorf("request = %v %q", req.Method, req.Path.Raw)
	}
}

func TestConnTransportPeerClose(t *testing.T) {
	client, server := tcpPair(t)
	tr := NewConnTransport(server)
	client.Close()

	stream := NewStream(tr, nil, StreamOptions{PollTimeout: time.Second})
	err := stream.Fill(1)
	if !errors.Is(err, ErrTransportClosed) {
		t.Errorf("err = %v, want %v", err, ErrTransportClosed)
	}
}

func TestConnTransportWrite(t *testing.T) {
	client, server := tcpPair(t)
	tr := NewConnTransport(server)

	n, err := tr.Write([]byte("pong"), time.Second)
	if err != nil || n != 4 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	buf := make([]byte, 4)
	client.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := client.Read(buf); err != nil || string(buf) != "pong" {
		t.Errorf("client read %q, %v", buf, err)
	}
}

func TestConnTransportPipe(t *testing.T) {
	// net.Pipe has no file descriptor, so only deadlines bound the wait.
	client, server := net.Pipe()
	defer client.Close()
	tr := NewConnTransport(server)
	defer tr.Close()

	if tr.raw != nil {
		t.Fatalf("pipe reported a raw conn")
	}
	stream := NewStream(tr, nil, StreamOptions{PollTimeout: 30 * time.Millisecond})
	if err := stream.Fill(1); !errors.Is(err, ErrTransportTimeout) {
		t.Errorf("err = %v, want %v", err, ErrTransportTimeout)
	}
}
