// Package proxyprotocol accepts connections that may start with a PROXY
// protocol header and reports the client address the header carries.
package proxyprotocol

import (
	"bufio"
	"net"
	"sync"
	"time"

	proxyproto "github.com/pires/go-proxyproto"
)

// DefaultHeaderTimeout bounds how long a connection may take to send its
// header.
const DefaultHeaderTimeout = 5 * time.Second

// Listener wraps accepted connections in Conn.
type Listener struct {
	net.Listener
	HeaderTimeout time.Duration
}

func NewListener(l net.Listener) *Listener {
	return &Listener{Listener: l, HeaderTimeout: DefaultHeaderTimeout}
}

// Accept returns the next connection without reading from it; the header is
// parsed on first use by the goroutine serving the connection.
func (l *Listener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return NewConn(c, l.HeaderTimeout), nil
}

// Conn is a net.Conn that strips a leading PROXY header and reports the
// addresses it names.
type Conn struct {
	net.Conn
	rd      *bufio.Reader
	timeout time.Duration

	once   sync.Once
	err    error
	local  net.Addr
	remote net.Addr

	mu           sync.Mutex
	readDeadline time.Time
}

func NewConn(c net.Conn, timeout time.Duration) *Conn {
	return &Conn{
		Conn:    c,
		rd:      bufio.NewReader(c),
		timeout: timeout,
	}
}

func (c *Conn) init() {
	c.once.Do(func() {
		if c.timeout > 0 {
			c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
			defer func() {
				c.mu.Lock()
				c.Conn.SetReadDeadline(c.readDeadline)
				c.mu.Unlock()
			}()
		}

		hdr, err := proxyproto.Read(c.rd)
		switch err {
		case nil:
			c.local = addrFor(hdr.TransportProtocol, hdr.DestinationAddress, hdr.DestinationPort)
			c.remote = addrFor(hdr.TransportProtocol, hdr.SourceAddress, hdr.SourcePort)
		case proxyproto.ErrNoProxyProtocol, proxyproto.ErrInvalidLength:
			// Not a PROXY connection; serve it as is.
		default:
			c.err = err
		}
	})
}

// Read reads past the header. A malformed header fails every read.
func (c *Conn) Read(b []byte) (int, error) {
	c.init()
	if c.err != nil {
		return 0, c.err
	}
	return c.rd.Read(b)
}

// SetDeadline and SetReadDeadline remember the caller's read deadline so it
// survives the header timeout.
func (c *Conn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	c.mu.Unlock()
	return c.Conn.SetDeadline(t)
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	c.mu.Unlock()
	return c.Conn.SetReadDeadline(t)
}

func (c *Conn) LocalAddr() net.Addr {
	c.init()
	if c.local == nil {
		return c.Conn.LocalAddr()
	}
	return c.local
}

func (c *Conn) RemoteAddr() net.Addr {
	c.init()
	if c.remote == nil {
		return c.Conn.RemoteAddr()
	}
	return c.remote
}

func addrFor(proto proxyproto.AddressFamilyAndProtocol, ip net.IP, port uint16) net.Addr {
	switch {
	case proto.IsUnspec():
		return nil
	case proto.IsUnix():
		network := "unix"
		if !proto.IsStream() {
			network = "unixgram"
		}
		return &net.UnixAddr{Net: network, Name: ip.String()}
	case proto.IsStream():
		return &net.TCPAddr{IP: ip, Port: int(port)}
	default:
		return &net.UDPAddr{IP: ip, Port: int(port)}
	}
}
