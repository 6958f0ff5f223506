package core

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/searchktools/fast-static/core/buffer"
	"github.com/searchktools/fast-static/core/http"
)

// writeDrainThreshold bounds how much a level-triggered write may leave
// behind before yielding the worker back to the pool
const writeDrainThreshold = 10240

// Conn drives one accepted socket through read, process and write.
//
// A Conn is either closed or open with at most one worker operating on it.
// Workers hold mu for the whole task; idle eviction only TryLocks it.
type Conn struct {
	fd   int
	id   uint64
	addr string
	et   bool

	closed atomic.Bool
	mu     sync.Mutex

	readBuf  *buffer.Buffer
	writeBuf *buffer.Buffer
	seg      Segments

	req  http.Request
	resp http.Response
	site *http.Site

	live *atomic.Int32
}

// newConn wraps fd and counts it in live
func newConn(fd int, id uint64, addr string, et bool, site *http.Site, live *atomic.Int32) *Conn {
	c := &Conn{
		fd:       fd,
		id:       id,
		addr:     addr,
		et:       et,
		readBuf:  buffer.New(buffer.DefaultSize),
		writeBuf: buffer.New(buffer.DefaultSize),
		site:     site,
		live:     live,
	}
	live.Add(1)
	return c
}

// Fd returns the socket descriptor
func (c *Conn) Fd() int { return c.fd }

// ID returns the connection id, unique for the engine's lifetime
func (c *Conn) ID() uint64 { return c.id }

// Addr returns the peer address
func (c *Conn) Addr() string { return c.addr }

// Closed reports whether Close has run
func (c *Conn) Closed() bool { return c.closed.Load() }

// Read pulls bytes into the read buffer: until EAGAIN or EOF when
// edge-triggered, a single read otherwise. It returns the bytes read and
// the error of the last attempt. A result <= 0 with a nil error is EOF.
func (c *Conn) Read() (int, error) {
	total := 0
	for {
		n, err := c.readBuf.ReadFd(c.fd)
		if n <= 0 {
			if total > 0 {
				return total, err
			}
			return n, err
		}
		total += n
		if !c.et {
			return total, nil
		}
	}
}

// Write sends the pending segments with writev. It stops on an error or
// when nothing is left, and otherwise keeps going while edge-triggered or
// while more than writeDrainThreshold bytes remain.
func (c *Conn) Write() (int, error) {
	total := 0
	for {
		vec := c.seg.Vec()
		if len(vec) == 0 {
			return total, nil
		}
		n, err := unix.Writev(c.fd, vec)
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
		total += n
		c.writeBuf.Retrieve(c.seg.Advance(n))

		if c.seg.Len() == 0 {
			c.writeBuf.RetrieveAll()
			return total, nil
		}
		if !c.et && c.seg.Len() <= writeDrainThreshold {
			return total, nil
		}
	}
}

// Process parses the buffered request and synthesizes its response into
// the write buffer. It returns false when there is nothing to send yet.
// A malformed request is answered with 400 and keep-alive off, and its
// bytes are discarded.
func (c *Conn) Process() bool {
	c.req.Init()
	if c.readBuf.ReadableBytes() <= 0 {
		return false
	}

	ok, err := c.req.Parse(c.readBuf, c.site)
	switch {
	case err != nil:
		c.resp.Init(c.site, c.req.Path, false, 400)
		c.readBuf.RetrieveAll()
	case ok:
		c.resp.Init(c.site, c.req.Path, c.req.IsKeepAlive(), 200)
	default:
		return false
	}

	c.resp.MakeResponse(c.writeBuf)
	c.seg.Set(c.writeBuf.Peek(), c.resp.File())
	return true
}

// ToWriteBytes returns the bytes of the current response not yet sent
func (c *Conn) ToWriteBytes() int {
	return c.seg.Len()
}

// IsKeepAlive reports whether the socket stays open after the current
// response
func (c *Conn) IsKeepAlive() bool {
	return c.resp.KeepAlive()
}

// Request returns the last parsed request
func (c *Conn) Request() *http.Request {
	return &c.req
}

// Response returns the current response
func (c *Conn) Response() *http.Response {
	return &c.resp
}

// Close releases the mapping, uncounts the connection and closes the
// socket. Only the first call does anything; it reports whether this
// call closed the connection.
func (c *Conn) Close() bool {
	if !c.closed.CompareAndSwap(false, true) {
		return false
	}
	c.resp.UnmapFile()
	c.seg.Reset()
	c.live.Add(-1)
	unix.Close(c.fd)
	return true
}
