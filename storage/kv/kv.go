// Package kv is a flat key/value store split into namespaces. The file implementation keeps one
// JSON document per namespace on a billy filesystem.
package kv

import (
	"encoding/json"
	"io"
	"os"
	"path"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"gopkg.in/src-d/go-billy.v4"
	"gopkg.in/src-d/go-billy.v4/util"
)

// ErrNotFound is returned for a key that has no value.
var ErrNotFound = errors.New("key not found")

// A Store reads and writes string values by namespace and key.
type Store interface {
	Get(namespace, key string) (string, error)
	Put(namespace, key, value string) error
	Delete(namespace, key string) error
	Keys(namespace string) ([]string, error)
}

// GetUint8 reads key as a uint8, returning def when the key is missing.
func GetUint8(s Store, namespace, key string, def uint8) (uint8, error) {
	raw, err := s.Get(namespace, key)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	v, err := cast.ToUint8E(raw)
	if err != nil {
		return def, errors.Wrapf(err, "bad value for %s/%s", namespace, key)
	}
	return v, nil
}

// PutUint8 writes key as a uint8.
func PutUint8(s Store, namespace, key string, v uint8) error {
	return s.Put(namespace, key, cast.ToString(v))
}

// FileStore is a Store on a billy filesystem. It is safe for concurrent use.
type FileStore struct {
	mu  sync.Mutex
	fs  billy.Filesystem
	dir string

	cache map[string]map[string]string
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store keeping its namespaces under dir on fs.
func NewFileStore(fs billy.Filesystem, dir string) (*FileStore, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "cannot create store directory %q", dir)
	}
	return &FileStore{fs: fs, dir: dir, cache: map[string]map[string]string{}}, nil
}

// Get returns the value of key.
func (s *FileStore) Get(namespace, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, err := s.load(namespace)
	if err != nil {
		return "", err
	}
	v, ok := ns[key]
	if !ok {
		return "", errors.Wrapf(ErrNotFound, "%s/%s", namespace, key)
	}
	return v, nil
}

// Put sets key and writes the namespace through to the filesystem.
func (s *FileStore) Put(namespace, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, err := s.load(namespace)
	if err != nil {
		return err
	}
	prev, had := ns[key]
	ns[key] = value
	if err := s.flush(namespace, ns); err != nil {
		if had {
			ns[key] = prev
		} else {
			delete(ns, key)
		}
		return err
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *FileStore) Delete(namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, err := s.load(namespace)
	if err != nil {
		return err
	}
	if _, ok := ns[key]; !ok {
		return nil
	}
	delete(ns, key)
	return s.flush(namespace, ns)
}

// Keys lists the keys of a namespace in order.
func (s *FileStore) Keys(namespace string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, err := s.load(namespace)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(ns))
	for k := range ns {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileStore) file(namespace string) string {
	return path.Join(s.dir, namespace+".json")
}

func (s *FileStore) load(namespace string) (map[string]string, error) {
	if ns, ok := s.cache[namespace]; ok {
		return ns, nil
	}
	ns := map[string]string{}
	f, err := s.fs.Open(s.file(namespace))
	if err != nil {
		if os.IsNotExist(err) {
			s.cache[namespace] = ns
			return ns, nil
		}
		return nil, errors.Wrapf(err, "cannot open namespace %q", namespace)
	}
	defer func() {
		//nolint:errcheck
		f.Close()
	}()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read namespace %q", namespace)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &ns); err != nil {
			return nil, errors.Wrapf(err, "namespace %q is corrupt", namespace)
		}
	}
	s.cache[namespace] = ns
	return ns, nil
}

// flush replaces the namespace file through a temporary file.
func (s *FileStore) flush(namespace string, ns map[string]string) error {
	data, err := json.MarshalIndent(ns, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.file(namespace) + ".tmp"
	if err := util.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "cannot write namespace %q", namespace)
	}
	if err := s.fs.Rename(tmp, s.file(namespace)); err != nil {
		return errors.Wrapf(err, "cannot replace namespace %q", namespace)
	}
	return nil
}
