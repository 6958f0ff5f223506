// Package mapfile maps served files into memory for zero-copy transmission.
package mapfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// Mapping is a read-only, process-private mapping of a whole file.
// Release is idempotent and safe on a nil Mapping.
type Mapping struct {
	mu   sync.Mutex
	data []byte
}

// Map opens path read-only and maps size bytes of it copy-on-write.
// The descriptor is closed before returning; the mapping stays valid.
func Map(path string, size int64) (*Mapping, error) {
	if size <= 0 {
		return nil, fmt.Errorf("map %s: empty file", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &Mapping{data: data}, nil
}

// Bytes returns the mapped region, or nil once released
func (m *Mapping) Bytes() []byte {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

// Len returns the mapped length, or 0 once released
func (m *Mapping) Len() int {
	return len(m.Bytes())
}

// Release unmaps the region. Only the first call unmaps.
func (m *Mapping) Release() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}

var contentTypes = map[string]string{
	".html":  "text/html",
	".xml":   "text/xml",
	".xhtml": "application/xhtml+xml",
	".txt":   "text/plain",
	".rtf":   "application/rtf",
	".pdf":   "application/pdf",
	".word":  "application/nsword",
	".png":   "image/png",
	".gif":   "image/gif",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".au":    "audio/basic",
	".mpeg":  "video/mpeg",
	".mpg":   "video/mpeg",
	".avi":   "video/x-msvideo",
	".gz":    "application/x-gzip",
	".tar":   "application/x-tar",
	".css":   "text/css",
	".js":    "text/javascript",
}

// ContentType returns the MIME type for the extension of name,
// text/plain when it has none or it is unknown.
func ContentType(name string) string {
	if ct, ok := contentTypes[filepath.Ext(name)]; ok {
		return ct
	}
	return "text/plain"
}
