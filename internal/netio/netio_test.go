package netio

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"
)

func loopbackPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	serverCh := make(chan *net.TCPConn, 1)
	errCh := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			errCh <- err
			return
		}
		serverCh <- c.(*net.TCPConn)
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	select {
	case server := <-serverCh:
		return client.(*net.TCPConn), server
	case err := <-errCh:
		t.Fatalf("accept: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}
	return nil, nil
}

func TestWritevReadvRoundTrip(t *testing.T) {
	client, server := loopbackPair(t)
	defer client.Close()
	defer server.Close()

	vw, err := New(client)
	if err != nil {
		t.Fatalf("New(client): %v", err)
	}
	vr, err := New(server)
	if err != nil {
		t.Fatalf("New(server): %v", err)
	}

	part1 := []byte("hello, ")
	part2 := []byte("world")
	n, err := vw.Writev([][]byte{part1, part2})
	if err != nil {
		t.Fatalf("Writev: %v", err)
	}
	if n != len(part1)+len(part2) {
		t.Fatalf("Writev n = %d, want %d", n, len(part1)+len(part2))
	}

	buf1 := make([]byte, 7)
	buf2 := make([]byte, 5)
	n, err = vr.Readv([][]byte{buf1, buf2})
	if err != nil {
		t.Fatalf("Readv: %v", err)
	}
	if n != 12 {
		t.Fatalf("Readv n = %d, want 12", n)
	}
	got := append(append([]byte{}, buf1...), buf2...)
	if !bytes.Equal(got, []byte("hello, world")) {
		t.Fatalf("Readv got %q, want %q", got, "hello, world")
	}
}

func TestReadvEOF(t *testing.T) {
	client, server := loopbackPair(t)
	defer server.Close()

	vr, err := New(server)
	if err != nil {
		t.Fatalf("New(server): %v", err)
	}
	client.Close()

	buf := make([]byte, 4)
	_, err = vr.Readv([][]byte{buf})
	if err != io.EOF {
		t.Fatalf("Readv err = %v, want io.EOF", err)
	}
}

func TestCloseRead(t *testing.T) {
	client, server := loopbackPair(t)
	defer client.Close()
	defer server.Close()

	vs, err := New(server)
	if err != nil {
		t.Fatalf("New(server): %v", err)
	}
	if err := vs.CloseRead(); err != nil {
		t.Fatalf("CloseRead: %v", err)
	}

	if _, err := client.Write([]byte("x")); err != nil {
		t.Fatalf("client write after peer CloseRead: %v", err)
	}
}
