// Package userdb is the credential store behind the login and register pages.
package userdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	ErrUserExists = errors.New("user already exists")
	ErrPoolClosed = errors.New("credential pool closed")
)

// Table maps user names to bcrypt password digests. When it has a path,
// every insert rewrites the file as a serialized structpb.Struct.
type Table struct {
	mu    sync.RWMutex
	path  string
	users map[string]string
}

// OpenTable loads the table stored at path. A missing file yields an
// empty table; an empty path keeps the table in memory only.
func OpenTable(path string) (*Table, error) {
	t := &Table{path: path, users: make(map[string]string)}
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read user table: %w", err)
	}

	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode user table: %w", err)
	}
	for name, v := range st.GetFields() {
		t.users[name] = v.GetStringValue()
	}
	return t, nil
}

// Len returns the number of users
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.users)
}

func (t *Table) lookup(name string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	digest, ok := t.users[name]
	return digest, ok
}

func (t *Table) insert(name, digest string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.users[name]; ok {
		return ErrUserExists
	}
	t.users[name] = digest
	if err := t.save(); err != nil {
		delete(t.users, name)
		return err
	}
	return nil
}

// save must be called with mu held
func (t *Table) save() error {
	if t.path == "" {
		return nil
	}

	st := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(t.users))}
	for name, digest := range t.users {
		st.Fields[name] = structpb.NewStringValue(digest)
	}
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode user table: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(t.path), ".users-*")
	if err != nil {
		return fmt.Errorf("write user table: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write user table: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write user table: %w", err)
	}
	if err := os.Rename(tmp.Name(), t.path); err != nil {
		return fmt.Errorf("write user table: %w", err)
	}
	return nil
}

// hashCost is the bcrypt work factor for new digests
var hashCost = bcrypt.DefaultCost

// digestPassword returns the bcrypt hash of password
func digestPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func checkPassword(digest, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}
