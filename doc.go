/*
Package faststatic is an HTTP/1.1 static file server built directly on epoll.

One event loop goroutine owns the epoll instance, accepts connections and
tracks idle deadlines. Readable and writable connections become tasks on a
fixed work-stealing worker pool. Every connection is registered one-shot, so
at most one worker touches it until that worker re-arms it. Files are served
with mmap and writev; the body never passes through a user-space buffer.

# Quick Start

	package main

	import (
		"log"

		"github.com/searchktools/fast-static/app"
		"github.com/searchktools/fast-static/config"
	)

	func main() {
		cfg := config.New()
		application, err := app.New(cfg)
		if err != nil {
			log.Fatal(err)
		}
		if err := application.Run(); err != nil {
			log.Fatal(err)
		}
	}

Run it with -port, -root, -trig-mode and friends, FAST_STATIC_* environment
variables or a JSON file passed with -config.

# Modules

  - app: wiring and signal-driven shutdown
  - config: flags, JSON file and environment configuration
  - core: event loop (Engine) and connection driver (Conn)
  - core/http: incremental request parser and response synthesizer
  - core/poller: epoll wrapper
  - core/buffer: growable read/write buffer with vectored socket reads
  - core/timer: min-heap idle timer
  - core/mapfile: read-only file mappings and content types
  - core/pools: worker pool, slab pool and GC tuning
  - core/userdb: pooled credential store for the login and register forms
  - core/logging: zerolog sink with daily files and async delivery

# Trigger modes

  - 0: listener and connections level-triggered
  - 1: connections edge-triggered
  - 2: listener edge-triggered
  - 3: both edge-triggered (default)

Linux only.
*/
package faststatic
