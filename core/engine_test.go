package core

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	nethttp "net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/searchktools/fast-static/core/http"
	"github.com/searchktools/fast-static/core/poller"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func newTestEngine(t *testing.T, site *http.Site, configure func(o *Options)) *Engine {
	t.Helper()
	opts := Options{
		Port:     freePort(t),
		TrigMode: 3,
		Timeout:  DefaultTimeout,
		Threads:  4,
		Site:     site,
		Logger:   zerolog.Nop(),
	}
	if configure != nil {
		configure(&opts)
	}
	return NewEngine(opts)
}

func serve(t *testing.T, e *Engine) *Engine {
	t.Helper()
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	served := make(chan error, 1)
	go func() { served <- e.Serve() }()
	t.Cleanup(func() {
		e.Shutdown()
		if err := <-served; !errors.Is(err, ErrServerClosed) {
			t.Errorf("Expected ErrServerClosed from Serve, got %v", err)
		}
	})
	return e
}

func startEngine(t *testing.T, site *http.Site, configure func(o *Options)) *Engine {
	t.Helper()
	return serve(t, newTestEngine(t, site, configure))
}

func dial(t *testing.T, e *Engine) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp4", fmt.Sprintf("127.0.0.1:%d", e.opts.Port))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

func roundTrip(t *testing.T, conn net.Conn, br *bufio.Reader, raw string) (*nethttp.Response, []byte) {
	t.Helper()
	if _, err := io.WriteString(conn, raw); err != nil {
		t.Fatalf("write request: %v", err)
	}
	resp, err := nethttp.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, body
}

func get(path string, keepAlive bool) string {
	conn := "close"
	if keepAlive {
		conn = "keep-alive"
	}
	return "GET " + path + " HTTP/1.1\r\nHost: localhost\r\nConnection: " + conn + "\r\n\r\n"
}

func expectEOF(t *testing.T, br *bufio.Reader) {
	t.Helper()
	if _, err := br.ReadByte(); err != io.EOF {
		t.Errorf("Expected the server to close the connection, got %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEngine_ServesFileInEveryTriggerMode(t *testing.T) {
	site := writeSite(t)
	want, _ := os.ReadFile(filepath.Join(site.Root, "big.bin"))

	for mode := 0; mode <= 3; mode++ {
		t.Run(fmt.Sprintf("mode%d", mode), func(t *testing.T) {
			e := startEngine(t, site, func(o *Options) { o.TrigMode = mode })
			conn, br := dial(t, e)

			resp, body := roundTrip(t, conn, br, get("/big.bin", false))
			if resp.StatusCode != 200 {
				t.Fatalf("Expected 200, got %d", resp.StatusCode)
			}
			if resp.ContentLength != int64(len(body)) {
				t.Errorf("Expected Content-length %d to match body %d", resp.ContentLength, len(body))
			}
			if string(body) != string(want) {
				t.Error("Expected body byte-identical to the file")
			}
			expectEOF(t, br)
		})
	}
}

func TestEngine_RootIsDefaultDocument(t *testing.T) {
	site := writeSite(t)
	e := startEngine(t, site, nil)
	conn, br := dial(t, e)

	_, root := roundTrip(t, conn, br, get("/", true))
	_, index := roundTrip(t, conn, br, get("/index.html", true))
	if string(root) != string(index) || string(root) != "<html>home</html>" {
		t.Errorf("Expected / to serve the index page, got %q and %q", root, index)
	}
}

func TestEngine_ErrorPages(t *testing.T) {
	site := writeSite(t)
	if err := os.WriteFile(filepath.Join(site.Root, "private.html"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	e := startEngine(t, site, nil)

	tests := []struct {
		path string
		code int
		body string
	}{
		{"/missing.html", 404, "<html>not found</html>"},
		{"/private.html", 403, "<html>forbidden</html>"},
	}
	for _, tt := range tests {
		conn, br := dial(t, e)
		resp, body := roundTrip(t, conn, br, get(tt.path, false))
		if resp.StatusCode != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.code, resp.StatusCode)
		}
		if string(body) != tt.body {
			t.Errorf("%s: expected %q, got %q", tt.path, tt.body, body)
		}
	}
}

func TestEngine_BadRequestClosesConnection(t *testing.T) {
	site := writeSite(t)
	e := startEngine(t, site, nil)
	conn, br := dial(t, e)

	resp, body := roundTrip(t, conn, br, "GIMME THE FILE PLEASE\r\nConnection: keep-alive\r\n\r\n")
	if resp.StatusCode != 400 {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}
	if !resp.Close {
		t.Error("Expected the response to announce Connection: close")
	}
	if string(body) != "<html>bad request</html>" {
		t.Errorf("Expected 400 page, got %q", body)
	}
	expectEOF(t, br)
}

func TestEngine_BadRequestWireFormat(t *testing.T) {
	site := writeSite(t)
	e := startEngine(t, site, nil)
	conn, _ := dial(t, e)

	if _, err := io.WriteString(conn, "GIMME THE FILE PLEASE\r\nConnection: keep-alive\r\n\r\n"); err != nil {
		t.Fatalf("write request: %v", err)
	}
	raw, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}

	want := "HTTP/1.1 400 Bad Request\r\n" +
		"Connection: close\r\n" +
		"Content-type: text/html\r\n" +
		"Content-length: 24\r\n" +
		"\r\n" +
		"<html>bad request</html>"
	if string(raw) != want {
		t.Errorf("Expected %q, got %q", want, raw)
	}
}

func TestEngine_KeepAlive(t *testing.T) {
	site := writeSite(t)
	for _, mode := range []int{0, 3} {
		t.Run(fmt.Sprintf("mode%d", mode), func(t *testing.T) {
			e := startEngine(t, site, func(o *Options) { o.TrigMode = mode })
			conn, br := dial(t, e)

			for i := 0; i < 3; i++ {
				resp, body := roundTrip(t, conn, br, get("/index.html", true))
				if resp.StatusCode != 200 || string(body) != "<html>home</html>" {
					t.Fatalf("Request %d: unexpected %d %q", i, resp.StatusCode, body)
				}
				if resp.Header.Get("Keep-Alive") != "max=6, timeout=120" {
					t.Errorf("Expected keep-alive advisory, got %q", resp.Header.Get("Keep-Alive"))
				}
			}
			if got := e.Stats().Accepted; got != 1 {
				t.Errorf("Expected one accepted connection, got %d", got)
			}
			if got := e.monitor.Count(200); got != 3 {
				t.Errorf("Expected 3 recorded 200 responses, got %d", got)
			}
		})
	}
}

func TestEngine_IdleEviction(t *testing.T) {
	site := writeSite(t)
	e := startEngine(t, site, func(o *Options) { o.Timeout = 100 * time.Millisecond })
	_, br := dial(t, e)

	expectEOF(t, br)
	waitFor(t, "eviction", func() bool { return e.Stats().Evicted > 0 })

	time.Sleep(200 * time.Millisecond)
	if e.Users() != 0 {
		t.Errorf("Expected no open connections, got %d", e.Users())
	}
	if got := e.Stats().Evicted; got != 1 {
		t.Errorf("Expected exactly one eviction, got %d", got)
	}
}

func TestEngine_KeepAliveOutlivesRequestsNotIdle(t *testing.T) {
	site := writeSite(t)
	e := startEngine(t, site, func(o *Options) { o.Timeout = 300 * time.Millisecond })
	conn, br := dial(t, e)

	// each request refreshes the deadline
	for i := 0; i < 4; i++ {
		roundTrip(t, conn, br, get("/index.html", true))
		time.Sleep(100 * time.Millisecond)
	}
	if got := e.Stats().Evicted; got != 0 {
		t.Errorf("Expected no eviction of an active connection, got %d", got)
	}
	expectEOF(t, br)
}

func TestEngine_NoOverlappingDispatch(t *testing.T) {
	site := writeSite(t)
	for _, mode := range []int{0, 3} {
		t.Run(fmt.Sprintf("mode%d", mode), func(t *testing.T) {
			// A task queued right after its predecessor re-armed the
			// connection may wait on the lock, so two can be pending.
			// A third means an event slipped past the one-shot registration.
			var leaks atomic.Int32
			var pending sync.Map
			e := newTestEngine(t, site, func(o *Options) { o.TrigMode = mode })
			e.dispatchHook = func(c *Conn, enter bool) {
				v, _ := pending.LoadOrStore(c.ID(), new(atomic.Int32))
				n := v.(*atomic.Int32)
				if !enter {
					n.Add(-1)
					return
				}
				if n.Add(1) > 2 {
					leaks.Add(1)
				}
			}
			serve(t, e)

			const clients, requests = 16, 25
			var wg sync.WaitGroup
			errs := make(chan error, clients)
			for i := 0; i < clients; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					errs <- hammer(e.opts.Port, requests)
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil {
					t.Errorf("client: %v", err)
				}
			}

			if leaks.Load() != 0 {
				t.Errorf("Expected at most two pending tasks per connection, exceeded %d times", leaks.Load())
			}
		})
	}
}

// hammer sends requests keep-alive GETs over one connection, each after
// the previous response was fully read
func hammer(port, requests int) error {
	conn, err := net.Dial("tcp4", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	br := bufio.NewReader(conn)
	for j := 0; j < requests; j++ {
		if _, err := io.WriteString(conn, get("/index.html", true)); err != nil {
			return err
		}
		resp, err := nethttp.ReadResponse(br, nil)
		if err != nil {
			return err
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != 200 {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
	}
	return nil
}

func TestEngine_ServerBusy(t *testing.T) {
	site := writeSite(t)
	e := startEngine(t, site, func(o *Options) { o.MaxConns = 1 })

	dial(t, e)
	waitFor(t, "first client", func() bool { return e.Users() == 1 })

	_, br := dial(t, e)
	msg, _ := io.ReadAll(br)
	if string(msg) != busyMessage {
		t.Errorf("Expected %q, got %q", busyMessage, msg)
	}
	if got := e.Stats().Rejected; got != 1 {
		t.Errorf("Expected one rejection, got %d", got)
	}
}

func TestEngine_LoginThroughVerifier(t *testing.T) {
	site := writeSite(t)
	for name, body := range map[string]string{"welcome.html": "<html>hi</html>", "error.html": "<html>no</html>"} {
		os.WriteFile(filepath.Join(site.Root, name), []byte(body), 0o644)
	}
	site.Verifier = verifierFunc(func(name, password string, login bool) bool {
		return login && name == "alice" && password == "s3cret"
	})
	e := startEngine(t, site, nil)

	post := func(form string) string {
		return "POST /login HTTP/1.1\r\nContent-Type: application/x-www-form-urlencoded\r\n" +
			fmt.Sprintf("Content-Length: %d\r\n\r\n", len(form)) + form
	}

	conn, br := dial(t, e)
	_, body := roundTrip(t, conn, br, post("username=alice&password=s3cret"))
	if string(body) != "<html>hi</html>" {
		t.Errorf("Expected welcome page, got %q", body)
	}

	conn, br = dial(t, e)
	_, body = roundTrip(t, conn, br, post("username=alice&password=wrong"))
	if string(body) != "<html>no</html>" {
		t.Errorf("Expected error page, got %q", body)
	}
}

type verifierFunc func(name, password string, login bool) bool

func (f verifierFunc) Verify(name, password string, login bool) bool {
	return f(name, password, login)
}

func TestEngine_InvalidPort(t *testing.T) {
	for _, port := range []int{0, 80, 1023, 65536} {
		e := NewEngine(Options{Port: port, Logger: zerolog.Nop()})
		if err := e.Start(); !errors.Is(err, ErrInvalidPort) {
			t.Errorf("Port %d: expected ErrInvalidPort, got %v", port, err)
		}
	}
}

func TestEngine_ShutdownWithoutServe(t *testing.T) {
	site := writeSite(t)
	e := NewEngine(Options{Port: freePort(t), Site: site, Logger: zerolog.Nop()})
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Shutdown(); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if err := e.Shutdown(); err != nil {
		t.Errorf("Expected second Shutdown to be a no-op, got %v", err)
	}
	if err := e.Serve(); !errors.Is(err, ErrServerClosed) {
		t.Errorf("Expected ErrServerClosed, got %v", err)
	}
}

func TestTriggerEvents(t *testing.T) {
	tests := []struct {
		mode       int
		listenEdge bool
		connEdge   bool
	}{
		{0, false, false},
		{1, false, true},
		{2, true, false},
		{3, true, true},
		{9, true, true},
	}
	for _, tt := range tests {
		listen, conn := triggerEvents(tt.mode)
		if (listen&poller.EdgeTriggered != 0) != tt.listenEdge {
			t.Errorf("Mode %d: unexpected listener mask %#x", tt.mode, listen)
		}
		if (conn&poller.EdgeTriggered != 0) != tt.connEdge {
			t.Errorf("Mode %d: unexpected connection mask %#x", tt.mode, conn)
		}
		if conn&poller.OneShot == 0 || conn&poller.PeerClosed == 0 || listen&poller.PeerClosed == 0 {
			t.Errorf("Mode %d: missing one-shot or peer-close bits", tt.mode)
		}
	}
}

func TestEngine_StatsJSON(t *testing.T) {
	e := NewEngine(Options{Logger: zerolog.Nop()})
	if s := e.StatsJSON(); !strings.Contains(s, `"users": 0`) {
		t.Errorf("Unexpected stats %s", s)
	}
	if s := e.StatsJSON(); !strings.Contains(s, `"size": 65536`) {
		t.Errorf("Expected read spill slab size in %s", s)
	}
	if s := e.StatsText(); !strings.Contains(s, "Server Statistics") {
		t.Errorf("Unexpected stats text %s", s)
	}
}
