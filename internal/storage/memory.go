package storage

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// MemoryStorage keeps blobs in a map. Used by tests and for throwaway runs
// where nothing should touch the disk.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]byte)}
}

// Writer buffers writes for key; the blob becomes visible on Close.
func (ms *MemoryStorage) Writer(key string) (io.WriteCloser, error) {
	return &memoryWriter{storage: ms, key: key}, nil
}

func (ms *MemoryStorage) Reader(key string) (io.ReadCloser, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	data, ok := ms.data[key]
	if !ok {
		return nil, fmt.Errorf("storage: no blob for key %s", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (ms *MemoryStorage) Size(key string) (int64, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	data, ok := ms.data[key]
	if !ok {
		return 0, fmt.Errorf("storage: no blob for key %s", key)
	}
	return int64(len(data)), nil
}

func (ms *MemoryStorage) Exists(key string) (bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	_, ok := ms.data[key]
	return ok, nil
}

// Delete removes the blob for key. Deleting a missing key is not an error.
func (ms *MemoryStorage) Delete(key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.data, key)
	return nil
}

type memoryWriter struct {
	storage *MemoryStorage
	key     string
	buf     bytes.Buffer
	closed  bool
}

func (mw *memoryWriter) Write(p []byte) (int, error) {
	if mw.closed {
		return 0, fmt.Errorf("storage: writer is closed")
	}
	return mw.buf.Write(p)
}

func (mw *memoryWriter) Close() error {
	if mw.closed {
		return nil
	}
	mw.closed = true
	mw.storage.mu.Lock()
	defer mw.storage.mu.Unlock()
	mw.storage.data[mw.key] = mw.buf.Bytes()
	return nil
}
