// Package logsource provides bounded-memory line readers over log files.
//
// A Source is a byte-addressable, sequentially readable log file plus its
// total size. Reading is resumable from a byte offset so an interrupted run
// can pick up after the last completed chunk without rereading the file.
package logsource

import (
	"fmt"
	"os"
)

// Source is an immutable handle on a log file for the duration of one
// pipeline run.
type Source struct {
	// Path is the local filesystem path of the log file. Remote sources
	// are spooled to a local file before a Source is opened over them.
	Path string

	// Size is the total byte size at open time.
	Size int64
}

// Open stats the file and returns a Source. This is the pipeline's only
// fatal failure point: an unreadable source aborts the run before any chunk
// work begins.
func Open(path string) (*Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open log source %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("open log source %s: is a directory", path)
	}
	return &Source{Path: path, Size: info.Size()}, nil
}
