package poller

// Event is a readiness mask. Bit values match epoll(7).
type Event uint32

const (
	Readable      Event = 0x001   // EPOLLIN
	Writable      Event = 0x004   // EPOLLOUT
	Error         Event = 0x008   // EPOLLERR
	Hangup        Event = 0x010   // EPOLLHUP
	PeerClosed    Event = 0x2000  // EPOLLRDHUP
	OneShot       Event = 1 << 30 // EPOLLONESHOT
	EdgeTriggered Event = 1 << 31 // EPOLLET
)

// Closing reports whether the mask carries a hangup, error or peer half-close.
func (e Event) Closing() bool {
	return e&(PeerClosed|Hangup|Error) != 0
}

// Poller is the I/O multiplexing interface.
//
// EventFd and EventMask are valid only for i in [0, n) where n is the
// result of the most recent Wait.
type Poller interface {
	Add(fd int, events Event) error
	Modify(fd int, events Event) error
	Remove(fd int) error
	Wait(timeoutMs int) (int, error)
	EventFd(i int) int
	EventMask(i int) Event
	Close() error
}
