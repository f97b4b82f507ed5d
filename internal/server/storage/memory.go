package storage

import (
	"bytes"
	"context"
	"sync"
)

// MemoryDisk keeps objects in a map. A WORM memory disk refuses overwrites.
type MemoryDisk struct {
	name string
	worm bool

	mu      sync.RWMutex
	objects map[string][]byte
	putErr  error
	getErr  error
}

func NewMemoryDisk(name string, worm bool) *MemoryDisk {
	return &MemoryDisk{name: name, worm: worm, objects: make(map[string][]byte)}
}

func (d *MemoryDisk) Name() string { return d.name }
func (d *MemoryDisk) WORM() bool   { return d.worm }

func (d *MemoryDisk) Put(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.putErr != nil {
		return d.putErr
	}
	if _, exists := d.objects[path]; exists && d.worm {
		return ErrObjectLocked
	}
	d.objects[path] = bytes.Clone(data)
	return nil
}

func (d *MemoryDisk) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.getErr != nil {
		return nil, d.getErr
	}
	b, ok := d.objects[path]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(b), nil
}

// FailPuts makes subsequent Put calls return err (nil restores).
func (d *MemoryDisk) FailPuts(err error) {
	d.mu.Lock()
	d.putErr = err
	d.mu.Unlock()
}

// FailGets makes subsequent Get calls return err (nil restores).
func (d *MemoryDisk) FailGets(err error) {
	d.mu.Lock()
	d.getErr = err
	d.mu.Unlock()
}

// Tamper rewrites an object in place, bypassing WORM. It simulates direct
// modification of the backing store and exists for integrity tests.
func (d *MemoryDisk) Tamper(path string, fn func([]byte) []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.objects[path]
	if !ok {
		return false
	}
	d.objects[path] = fn(bytes.Clone(b))
	return true
}

// Len returns the number of stored objects.
func (d *MemoryDisk) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.objects)
}
