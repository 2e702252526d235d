package store

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/logstore/internal/record"
)

// Location identifies the partition a record was appended to.
type Location struct {
	Stream record.Stream `json:"stream"`
	Day    record.Day    `json:"day"`
	Path   string        `json:"path"`
}

// appendLine appends one encoded record to its day partition. The line is
// written with a single write call on an O_APPEND descriptor so readers
// never observe half of it, except after a crash mid-write.
//
// If the partition ends in an unterminated fragment left by such a crash, a
// newline is written first so the fragment stays a line of its own instead
// of swallowing the new record.
//
// Callers must hold the stream's index lock.
func (s *Store) appendLine(stream record.Stream, day record.Day, line []byte) (Location, error) {
	path := s.partitionPath(stream, day)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return Location{}, newStorageError("open partition for append", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return Location{}, newStorageError("stat partition", path, err)
	}
	if size := info.Size(); size > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err != nil {
			f.Close()
			return Location{}, newStorageError("read partition tail", path, err)
		}
		if last[0] != '\n' {
			s.logger.Warn("isolating incomplete trailing line in partition",
				"stream", stream, "path", path)
			line = append([]byte{'\n'}, line...)
		}
	}

	if _, err := f.Write(line); err != nil {
		f.Close()
		return Location{}, newStorageError("append to partition", path, err)
	}
	if s.opts.SyncWrites {
		if err := f.Sync(); err != nil {
			f.Close()
			return Location{}, newStorageError("sync partition", path, err)
		}
	}
	if err := f.Close(); err != nil {
		return Location{}, newStorageError("close partition", path, err)
	}

	return Location{Stream: stream, Day: day, Path: path}, nil
}

// partitionReader yields the complete lines of one partition in append
// order. An unterminated final fragment is not yet visible and is dropped.
type partitionReader struct {
	path   string
	f      *os.File
	r      *bufio.Reader
	lineNo int
}

// openPartition opens a partition for reading. A missing partition returns
// (nil, nil): it reads as empty.
func openPartition(path string) (*partitionReader, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, newStorageError("open partition", path, err)
	}
	return &partitionReader{path: path, f: f, r: bufio.NewReaderSize(f, 64*1024)}, nil
}

// next returns the next non-blank complete line and its 1-based number.
// ok is false at the end of the visible partition.
func (p *partitionReader) next() (line []byte, lineNo int, ok bool, err error) {
	for {
		raw, readErr := p.r.ReadBytes('\n')
		if errors.Is(readErr, io.EOF) {
			// Anything left without a newline is an append still in
			// progress (or one that died mid-write).
			return nil, 0, false, nil
		}
		if readErr != nil {
			return nil, 0, false, newStorageError("read partition", p.path, readErr)
		}
		p.lineNo++
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		return raw, p.lineNo, true, nil
	}
}

func (p *partitionReader) close() error {
	return p.f.Close()
}

// listPartitions returns the days that have a partition file in dir, in
// ascending order. A missing directory has no partitions.
func listPartitions(dir string) ([]record.Day, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, newStorageError("list partitions", dir, err)
	}

	var days []record.Day
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != partitionExt {
			continue
		}
		day, err := record.ParseDay(strings.TrimSuffix(name, partitionExt))
		if err != nil {
			continue
		}
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days, nil
}

// ListPartitions returns the days holding a partition for stream, ascending.
func (s *Store) ListPartitions(stream record.Stream) ([]record.Day, error) {
	if _, err := s.index(stream); err != nil {
		return nil, err
	}
	return listPartitions(s.streamDir(stream))
}
