//go:build unix

package logbuffer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// RawLogOptions describes a log file to create.
type RawLogOptions struct {
	TermLength    int32
	PageSize      int32
	InitialTermID int32
	MTULength     int32
	CorrelationID int64
	PreTouch      bool // fault every page in before first use
}

// MappedRawLog is a log file mapped MAP_SHARED into this process. The terms
// and metadata alias the mapping, so they must not be used after Close.
type MappedRawLog struct {
	path       string
	mem        []byte
	termLength int32
	terms      [PartitionCount][]byte
	meta       *LogMetadata

	closeOnce sync.Once
	closeErr  error
}

// ComputeLogLength returns the file length for a log with the given term
// length and page size.
func ComputeLogLength(termLength, pageSize int32) int64 {
	return align(int64(termLength)*PartitionCount+LogMetaDataLength, int64(pageSize))
}

// CreateRawLog creates, sizes and maps a new log file at path and writes its
// metadata. The file must not already exist.
func CreateRawLog(path string, opts RawLogOptions) (*MappedRawLog, error) {
	if err := CheckTermLength(opts.TermLength); err != nil {
		return nil, err
	}
	if err := CheckPageSize(opts.PageSize); err != nil {
		return nil, err
	}
	if opts.PageSize > opts.TermLength {
		return nil, fmt.Errorf("%w: page size %d exceeds term length %d", ErrInvalidPageSize, opts.PageSize, opts.TermLength)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file %s: %w", path, err)
	}
	defer file.Close()

	cleanup := func() {
		os.Remove(path)
	}

	length := ComputeLogLength(opts.TermLength, opts.PageSize)
	if err := file.Truncate(length); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to size log file: %w", err)
	}

	l, err := mapLog(file, path, length, opts.TermLength)
	if err != nil {
		cleanup()
		return nil, err
	}

	l.meta.initialise(opts.CorrelationID, opts.InitialTermID, opts.TermLength, opts.PageSize, opts.MTULength)
	if opts.PreTouch {
		l.preTouch(opts.PageSize)
	}

	log.Debug().
		Str("path", path).
		Int64("length", length).
		Int32("term_length", opts.TermLength).
		Int32("initial_term_id", opts.InitialTermID).
		Msg("Created log buffer")

	return l, nil
}

// MapRawLog maps an existing log file created with termLength.
func MapRawLog(path string, termLength int32, preTouch bool) (*MappedRawLog, error) {
	if err := CheckTermLength(termLength); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}
	if info.Size() < int64(termLength)*PartitionCount+LogMetaDataLength {
		return nil, fmt.Errorf("log file %s too small for term length %d: %d bytes", path, termLength, info.Size())
	}

	l, err := mapLog(file, path, info.Size(), termLength)
	if err != nil {
		return nil, err
	}

	if got := l.meta.TermLength(); got != termLength {
		l.Close()
		return nil, fmt.Errorf("%w: log file records %d, expected %d", ErrInvalidTermLength, got, termLength)
	}
	if preTouch {
		l.preTouch(l.meta.PageSize())
	}

	return l, nil
}

func mapLog(file *os.File, path string, length int64, termLength int32) (*MappedRawLog, error) {
	mem, err := unix.Mmap(int(file.Fd()), 0, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap log file: %w", err)
	}

	l := &MappedRawLog{
		path:       path,
		mem:        mem,
		termLength: termLength,
	}
	for i := 0; i < PartitionCount; i++ {
		start := int64(i) * int64(termLength)
		l.terms[i] = mem[start : start+int64(termLength) : start+int64(termLength)]
	}

	metaOffset := int64(termLength) * PartitionCount
	l.meta, err = NewLogMetadata(mem[metaOffset:])
	if err != nil {
		unix.Munmap(mem)
		return nil, err
	}
	return l, nil
}

// preTouch faults in every page of the terms with a no-op CAS so the first
// offers do not pay for page faults.
func (l *MappedRawLog) preTouch(pageSize int32) {
	for _, term := range l.terms {
		for off := 0; off < len(term); off += int(pageSize) {
			atomic.CompareAndSwapInt32((*int32)(unsafe.Pointer(&term[off])), 0, 0)
		}
	}
}

// Path returns the file backing the log.
func (l *MappedRawLog) Path() string { return l.path }

// TermLength returns the length of each term buffer.
func (l *MappedRawLog) TermLength() int32 { return l.termLength }

// Term returns the term buffer for a partition.
func (l *MappedRawLog) Term(partitionIndex int) []byte { return l.terms[partitionIndex] }

// Metadata returns the accessor for the metadata trailer.
func (l *MappedRawLog) Metadata() *LogMetadata { return l.meta }

// Close unmaps the log. It is safe to call more than once.
func (l *MappedRawLog) Close() error {
	l.closeOnce.Do(func() {
		if l.mem == nil {
			return
		}
		if err := unix.Munmap(l.mem); err != nil {
			l.closeErr = fmt.Errorf("failed to unmap log file %s: %w", l.path, err)
			return
		}
		l.mem = nil
		log.Debug().Str("path", l.path).Msg("Unmapped log buffer")
	})
	return l.closeErr
}

// Delete unmaps the log and removes its file.
func (l *MappedRawLog) Delete() error {
	closeErr := l.Close()
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove log file %s: %w", l.path, err)
	}
	return closeErr
}
