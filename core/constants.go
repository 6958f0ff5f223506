package core

import (
	"errors"
	"time"
)

const (
	// MinPort and MaxPort bound the listening port
	MinPort = 1024
	MaxPort = 65535

	// listenBacklog is the accept queue length handed to listen(2)
	listenBacklog = 6

	// DefaultMaxConns caps concurrently open client connections
	DefaultMaxConns = 65536

	// DefaultThreads is the worker pool size
	DefaultThreads = 6

	// DefaultTimeout is the idle timeout of a connection
	DefaultTimeout = 60 * time.Second

	busyMessage = "Server busy!"
)

// Error definitions
var (
	ErrInvalidPort   = errors.New("port out of range")
	ErrServerClosed  = errors.New("server closed")
	ErrNotStarted    = errors.New("server not started")
	ErrAlreadyServed = errors.New("server already serving")
)
