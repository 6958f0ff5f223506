package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/searchktools/fast-static/core/http"
	"github.com/searchktools/fast-static/core/observability"
	"github.com/searchktools/fast-static/core/poller"
	"github.com/searchktools/fast-static/core/pools"
	"github.com/searchktools/fast-static/core/timer"
)

// Options configures an Engine
type Options struct {
	Port int

	// TrigMode selects edge or level triggering:
	// 0 both level, 1 connections edge, 2 listener edge, 3 both edge.
	TrigMode int

	// Timeout is the idle timeout; zero disables eviction
	Timeout time.Duration

	// OptLinger sets SO_LINGER{1, 1} on the listening socket
	OptLinger bool

	MaxConns int
	Threads  int

	Site   *http.Site
	Logger zerolog.Logger
}

// Engine is the epoll event loop. It accepts connections, tracks idle
// deadlines and hands readable or writable connections to a worker pool.
// Connections are registered one-shot, so a connection is dispatched to
// at most one worker until that worker re-arms it.
type Engine struct {
	opts Options
	log  zerolog.Logger
	site *http.Site

	poller   poller.Poller
	listenFd int
	wakeFd   int

	listenEvents poller.Event
	connEvents   poller.Event

	conns   *xsync.MapOf[int, *Conn]
	timer   *timer.HeapTimer
	workers *pools.WorkerPool
	reaped  mailbox
	monitor *observability.Monitor

	live   atomic.Int32
	nextID uint64

	accepted atomic.Uint64
	rejected atomic.Uint64
	evicted  atomic.Uint64

	serving  atomic.Bool
	closed   atomic.Bool
	teardown sync.Once
	done     chan struct{}

	// dispatchHook observes a task being queued for a connection (enter)
	// and finishing after it released the connection lock
	dispatchHook func(c *Conn, enter bool)
}

// mailbox carries ids of connections closed off the event loop, so their
// timer entries are removed on the loop goroutine
type mailbox struct {
	mu sync.Mutex
	q  *queue.Queue
}

func (m *mailbox) push(id uint64) {
	m.mu.Lock()
	m.q.Add(id)
	m.mu.Unlock()
}

func (m *mailbox) drain(fn func(id uint64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.q.Length() > 0 {
		fn(m.q.Remove().(uint64))
	}
}

// NewEngine creates an engine. Zero values in opts take their defaults.
func NewEngine(opts Options) *Engine {
	if opts.MaxConns <= 0 {
		opts.MaxConns = DefaultMaxConns
	}
	if opts.Threads <= 0 {
		opts.Threads = DefaultThreads
	}
	if opts.Site == nil {
		opts.Site = http.NewSite("resources")
	}

	e := &Engine{
		opts:     opts,
		log:      opts.Logger,
		site:     opts.Site,
		listenFd: -1,
		wakeFd:   -1,
		conns:    xsync.NewMapOf[int, *Conn](xsync.WithPresize(opts.MaxConns >> 4)),
		timer:    timer.New(),
		reaped:   mailbox{q: queue.New()},
		monitor:  observability.NewMonitor(),
		done:     make(chan struct{}),
	}
	e.listenEvents, e.connEvents = triggerEvents(opts.TrigMode)
	return e
}

// triggerEvents returns the listener and connection event masks for mode
func triggerEvents(mode int) (listen, conn poller.Event) {
	listen = poller.PeerClosed
	conn = poller.OneShot | poller.PeerClosed
	switch mode {
	case 0:
	case 1:
		conn |= poller.EdgeTriggered
	case 2:
		listen |= poller.EdgeTriggered
	default:
		listen |= poller.EdgeTriggered
		conn |= poller.EdgeTriggered
	}
	return listen, conn
}

// Start validates the configuration and sets up the poller, the wake
// eventfd, the listening socket and the worker pool.
func (e *Engine) Start() (err error) {
	if e.closed.Load() {
		return ErrServerClosed
	}
	if e.opts.Port < MinPort || e.opts.Port > MaxPort {
		return fmt.Errorf("%w: %d", ErrInvalidPort, e.opts.Port)
	}

	defer func() {
		if err != nil {
			e.closeFds()
		}
	}()

	if e.poller, err = poller.NewPoller(); err != nil {
		return err
	}

	if e.wakeFd, err = unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC); err != nil {
		e.wakeFd = -1
		return fmt.Errorf("eventfd: %w", err)
	}
	if err = e.poller.Add(e.wakeFd, poller.Readable); err != nil {
		return err
	}

	if err = e.listen(); err != nil {
		return err
	}

	e.workers = pools.NewWorkerPool(e.opts.Threads)

	e.log.Info().
		Int("port", e.opts.Port).
		Bool("linger", e.opts.OptLinger).
		Str("listen_mode", triggerName(e.listenEvents)).
		Str("conn_mode", triggerName(e.connEvents)).
		Str("root", e.site.Root).
		Int("threads", e.opts.Threads).
		Dur("timeout", e.opts.Timeout).
		Msg("server init")
	return nil
}

func triggerName(ev poller.Event) string {
	if ev&poller.EdgeTriggered != 0 {
		return "ET"
	}
	return "LT"
}

// listen creates the non-blocking listening socket and registers it
func (e *Engine) listen() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("create socket: %w", err)
	}
	e.listenFd = fd

	if e.opts.OptLinger {
		// Close waits up to a second for unsent data
		if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 1}); err != nil {
			return fmt.Errorf("set linger: %w", err)
		}
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("set reuseaddr: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: e.opts.Port}); err != nil {
		return fmt.Errorf("bind port %d: %w", e.opts.Port, err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		return fmt.Errorf("listen port %d: %w", e.opts.Port, err)
	}
	return e.poller.Add(fd, poller.Readable|e.listenEvents)
}

// Run starts the engine and serves until Shutdown
func (e *Engine) Run() error {
	if err := e.Start(); err != nil {
		return err
	}
	return e.Serve()
}

// Serve runs the event loop on the calling goroutine until Shutdown.
// It returns ErrServerClosed after a shutdown.
func (e *Engine) Serve() error {
	if e.poller == nil {
		return ErrNotStarted
	}
	if !e.serving.CompareAndSwap(false, true) {
		return ErrAlreadyServed
	}
	defer close(e.done)
	defer e.teardown.Do(e.release)

	e.log.Info().Msg("server start")
	for !e.closed.Load() {
		e.reaped.drain(e.timer.Remove)

		timeout := -1
		if e.opts.Timeout > 0 {
			timeout = e.timer.NextTick()
		}

		n, err := e.poller.Wait(timeout)
		if err != nil {
			e.log.Error().Err(err).Msg("poller wait")
			continue
		}

		for i := 0; i < n; i++ {
			fd := e.poller.EventFd(i)
			ev := e.poller.EventMask(i)
			switch fd {
			case e.listenFd:
				e.accept()
			case e.wakeFd:
				e.drainWake()
			default:
				e.dispatch(fd, ev)
			}
		}
	}
	return ErrServerClosed
}

// Shutdown stops the loop and closes every connection, the listener, the
// poller and the worker pool. It is safe to call more than once.
func (e *Engine) Shutdown() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if e.serving.Load() {
		e.wake()
		<-e.done
		return nil
	}
	e.teardown.Do(e.release)
	return nil
}

func (e *Engine) release() {
	if e.workers != nil {
		e.workers.Close()
	}

	closed := 0
	e.conns.Range(func(fd int, c *Conn) bool {
		c.mu.Lock()
		if c.Close() {
			closed++
		}
		c.mu.Unlock()
		e.conns.Delete(fd)
		return true
	})
	e.timer.Clear()
	e.closeFds()

	e.log.Info().Int("closed", closed).Msg("server stop")
}

func (e *Engine) closeFds() {
	if e.listenFd >= 0 {
		unix.Close(e.listenFd)
		e.listenFd = -1
	}
	if e.wakeFd >= 0 {
		unix.Close(e.wakeFd)
		e.wakeFd = -1
	}
	if e.poller != nil {
		e.poller.Close()
	}
}

func (e *Engine) wake() {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], 1)
	if _, err := unix.Write(e.wakeFd, b[:]); err != nil {
		e.log.Warn().Err(err).Msg("wake event loop")
	}
}

func (e *Engine) drainWake() {
	var b [8]byte
	unix.Read(e.wakeFd, b[:])
}

// accept takes pending connections, in a loop when the listener is
// edge-triggered. Over MaxConns a client gets a busy notice and is closed.
func (e *Engine) accept() {
	for {
		fd, sa, err := unix.Accept4(e.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if !errors.Is(err, unix.EAGAIN) {
				e.log.Warn().Err(err).Msg("accept")
			}
			return
		}

		if int(e.live.Load()) >= e.opts.MaxConns {
			unix.Write(fd, []byte(busyMessage))
			unix.Close(fd)
			e.rejected.Add(1)
			e.log.Warn().Int32("users", e.live.Load()).Msg("clients is full")
		} else {
			e.addClient(fd, sockaddrString(sa))
		}

		if e.listenEvents&poller.EdgeTriggered == 0 {
			return
		}
	}
}

func (e *Engine) addClient(fd int, addr string) {
	e.nextID++
	c := newConn(fd, e.nextID, addr, e.connEvents&poller.EdgeTriggered != 0, e.site, &e.live)

	// Store before Add so the first event always finds the connection
	e.conns.Store(fd, c)
	if e.opts.Timeout > 0 {
		e.timer.Add(c.id, e.opts.Timeout, func() { e.evict(c) })
	}
	if err := e.poller.Add(fd, poller.Readable|e.connEvents); err != nil {
		e.log.Error().Err(err).Int("fd", fd).Msg("register client")
		c.mu.Lock()
		e.closeConn(c)
		c.mu.Unlock()
		return
	}

	e.accepted.Add(1)
	e.log.Info().Int("fd", fd).Str("addr", addr).Int32("users", e.live.Load()).Msg("client in")
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port)).String()
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port)).String()
	}
	return ""
}

// dispatch routes one event of a client connection
func (e *Engine) dispatch(fd int, ev poller.Event) {
	c, ok := e.conns.Load(fd)
	if !ok {
		e.log.Debug().Int("fd", fd).Msg("event for unknown fd")
		return
	}

	switch {
	case ev.Closing():
		c.mu.Lock()
		e.closeConn(c)
		c.mu.Unlock()
	case ev&poller.Readable != 0:
		e.extendTime(c)
		e.submit(c, e.onRead)
	case ev&poller.Writable != 0:
		e.extendTime(c)
		e.submit(c, e.onWrite)
	default:
		e.log.Warn().Int("fd", fd).Uint32("events", uint32(ev)).Msg("unexpected event")
	}
}

func (e *Engine) extendTime(c *Conn) {
	if e.opts.Timeout > 0 {
		e.timer.Adjust(c.id, e.opts.Timeout)
	}
}

func (e *Engine) submit(c *Conn, fn func(c *Conn)) {
	hook := e.dispatchHook
	if hook != nil {
		hook(c, true)
	}
	ok := e.workers.Submit(func() {
		if hook != nil {
			defer hook(c, false)
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.Closed() {
			return
		}
		fn(c)
	})
	if !ok && hook != nil {
		hook(c, false)
	}
}

func (e *Engine) onRead(c *Conn) {
	n, err := c.Read()
	if n <= 0 && !errors.Is(err, unix.EAGAIN) {
		e.closeConn(c)
		return
	}
	e.onProcess(c)
}

func (e *Engine) onProcess(c *Conn) {
	start := time.Now()
	if c.Process() {
		e.monitor.Record(c.Response().Code(), c.ToWriteBytes(), time.Since(start))
		e.arm(c, poller.Writable)
		return
	}
	e.arm(c, poller.Readable)
}

func (e *Engine) onWrite(c *Conn) {
	_, err := c.Write()
	if c.ToWriteBytes() == 0 {
		if c.IsKeepAlive() {
			e.onProcess(c)
			return
		}
		e.closeConn(c)
		return
	}
	if err == nil || errors.Is(err, unix.EAGAIN) {
		e.arm(c, poller.Writable)
		return
	}
	e.closeConn(c)
}

// arm re-enables the one-shot registration of c for ev
func (e *Engine) arm(c *Conn, ev poller.Event) {
	if err := e.poller.Modify(c.fd, e.connEvents|ev); err != nil {
		e.log.Warn().Err(err).Int("fd", c.fd).Msg("rearm client")
		e.closeConn(c)
	}
}

// evict closes an idle connection. A connection a worker is busy with
// gets a fresh deadline instead.
func (e *Engine) evict(c *Conn) {
	if c.Closed() {
		return
	}
	if !c.mu.TryLock() {
		e.timer.Add(c.id, e.opts.Timeout, func() { e.evict(c) })
		return
	}
	defer c.mu.Unlock()

	if e.closeConn(c) {
		e.evicted.Add(1)
	}
}

// closeConn deregisters and closes c. The caller holds c.mu.
// The registry entry is removed only if it still points at c, since the
// kernel may hand the fd to a new connection as soon as it is closed.
func (e *Engine) closeConn(c *Conn) bool {
	if c.Closed() {
		return false
	}
	if err := e.poller.Remove(c.fd); err != nil {
		e.log.Debug().Err(err).Int("fd", c.fd).Msg("deregister client")
	}
	fd := c.fd
	if !c.Close() {
		return false
	}
	e.conns.Compute(fd, func(old *Conn, loaded bool) (*Conn, bool) {
		return old, !loaded || old == c
	})
	e.reaped.push(c.id)

	e.log.Info().Int("fd", fd).Str("addr", c.addr).Int32("users", e.live.Load()).Msg("client quit")
	return true
}

// Users returns the number of open client connections
func (e *Engine) Users() int {
	return int(e.live.Load())
}
