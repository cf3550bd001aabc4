package inproc

import (
	"errors"
	"net"
	"sync"

	"github.com/ValentinKolb/msgpackrpc/rpc/transport"
)

// connection is one end of an in-process connection. It implements transport.IConnection.
type connection struct {
	in        *halfPipe
	out       *halfPipe
	remote    string
	closeOnce sync.Once
}

// newPair creates two connected ends. aChunk and bChunk limit the bytes a single
// Receive returns on the respective end, zero means unlimited.
func newPair(aRemote, bRemote string, aChunk, bChunk int) (a, b *connection) {
	toA := newHalfPipe(aChunk)
	toB := newHalfPipe(bChunk)
	a = &connection{in: toA, out: toB, remote: aRemote}
	b = &connection{in: toB, out: toA, remote: bRemote}
	return a, b
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IConnection)
// --------------------------------------------------------------------------

func (c *connection) Send(bufs net.Buffers) (int64, error) {
	var total int64
	for _, b := range bufs {
		n, err := c.out.write(b)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (c *connection) Receive(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, errors.New("inproc: empty receive buffer")
	}
	return c.in.read(p)
}

func (c *connection) Shutdown(d transport.Direction) error {
	if d == transport.ShutdownReceive || d == transport.ShutdownBoth {
		c.in.closeRead()
	}
	if d == transport.ShutdownSend || d == transport.ShutdownBoth {
		c.out.closeWrite()
	}
	return nil
}

func (c *connection) Close() error {
	c.closeOnce.Do(func() {
		c.in.closeRead()
		c.out.closeWrite()
	})
	return nil
}

func (c *connection) RemoteAddr() string {
	return c.remote
}
