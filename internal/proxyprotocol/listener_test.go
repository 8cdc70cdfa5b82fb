package proxyprotocol

import (
	"io"
	"net"
	"testing"
	"time"
)

func pipeWith(t *testing.T, payload string) *Conn {
	t.Helper()

	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	go func() {
		_, _ = client.Write([]byte(payload))
		client.Close()
	}()

	return NewConn(server, time.Second)
}

func TestConnWithHeader(t *testing.T) {
	c := pipeWith(t, "PROXY TCP4 192.0.2.10 198.51.100.1 56324 443\r\nGET / HTTP/1.1\r\n")

	addr, ok := c.RemoteAddr().(*net.TCPAddr)
	if !ok {
		t.Fatalf("Expected *net.TCPAddr, got %T", c.RemoteAddr())
	}
	if addr.IP.String() != "192.0.2.10" || addr.Port != 56324 {
		t.Errorf("RemoteAddr mismatch: got %s", addr)
	}

	local, ok := c.LocalAddr().(*net.TCPAddr)
	if !ok || local.Port != 443 {
		t.Errorf("LocalAddr mismatch: got %v", c.LocalAddr())
	}

	rest, err := io.ReadAll(c)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(rest) != "GET / HTTP/1.1\r\n" {
		t.Errorf("Expected header stripped, got %q", rest)
	}
}

func TestConnWithoutHeader(t *testing.T) {
	c := pipeWith(t, "GET / HTTP/1.1\r\n")

	rest, err := io.ReadAll(c)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(rest) != "GET / HTTP/1.1\r\n" {
		t.Errorf("Expected payload untouched, got %q", rest)
	}
	if c.RemoteAddr().String() != "pipe" {
		t.Errorf("Expected underlying address, got %s", c.RemoteAddr())
	}
}

func TestListenerWrapsConnections(t *testing.T) {
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	l := NewListener(inner)
	defer l.Close()

	go func() {
		conn, err := net.Dial("tcp", inner.Addr().String())
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("PROXY TCP4 203.0.113.7 198.51.100.1 40000 8080\r\nping"))
	}()

	conn, err := l.Accept()
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	defer conn.Close()

	if got := conn.RemoteAddr().String(); got != "203.0.113.7:40000" {
		t.Errorf("RemoteAddr mismatch: got %s", got)
	}

	buf := make([]byte, 4)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(buf) != "ping" {
		t.Errorf("Payload mismatch: got %q", buf)
	}
}
