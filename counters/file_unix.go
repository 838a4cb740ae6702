//go:build unix

package counters

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// File is a counters file mapped MAP_SHARED.
type File struct {
	*Values
	path string
	mem  []byte
}

// CreateFile creates (or truncates) a counters file with room for capacity
// slots and maps it.
func CreateFile(path string, capacity int32) (*File, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("counter capacity must be > 0, got %d", capacity)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create counters directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open counters file %s: %w", path, err)
	}
	defer file.Close()

	length := int(capacity) * CounterLength
	if err := file.Truncate(int64(length)); err != nil {
		return nil, fmt.Errorf("failed to size counters file: %w", err)
	}

	mem, err := unix.Mmap(int(file.Fd()), 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap counters file: %w", err)
	}

	values, err := NewValues(mem)
	if err != nil {
		unix.Munmap(mem)
		return nil, err
	}
	return &File{Values: values, path: path, mem: mem}, nil
}

// Path returns the backing file.
func (f *File) Path() string { return f.path }

// Close unmaps the file.
func (f *File) Close() error {
	if f.mem == nil {
		return nil
	}
	err := unix.Munmap(f.mem)
	f.mem = nil
	return err
}
