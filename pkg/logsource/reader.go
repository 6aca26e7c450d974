package logsource

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"unicode/utf8"
)

const (
	// DefaultBufferSize is the bufio read buffer size. Memory use of a
	// reader is O(DefaultBufferSize + MaxLineBytes), independent of file
	// size.
	DefaultBufferSize = 64 * 1024

	// DefaultMaxLineBytes caps per-line memory. A pathologically long line
	// is truncated at this length and marked, never buffered whole.
	DefaultMaxLineBytes = 1024 * 1024

	// TruncationMarker is appended to lines cut at MaxLineBytes.
	TruncationMarker = "…[truncated]"

	// replacementRune substitutes invalid encoding sequences.
	replacementRune = "�"
)

// ReaderConfig configures a LineReader.
type ReaderConfig struct {
	// BufferSize is the read buffer size. Default: DefaultBufferSize.
	BufferSize int

	// MaxLineBytes is the maximum retained bytes per line before
	// truncation. Default: DefaultMaxLineBytes.
	MaxLineBytes int
}

// Line is one line of the source, sanitized for downstream use.
type Line struct {
	// Number is the 1-based line number within the source.
	Number int

	// Offset is the byte offset of the start of the line in the source.
	Offset int64

	// Text is the line content without the trailing newline. Invalid
	// encoding sequences are replaced and overlong lines truncated; both
	// conditions are recorded as warnings on the reader.
	Text string

	// RawBytes is the size the line occupies in the source, including the
	// newline and any truncated tail.
	RawBytes int64
}

// Warnings counts the non-fatal conditions recovered during reading.
type Warnings struct {
	Encoding   int64
	Truncation int64
}

// LineReader produces the source's lines sequentially in O(buffer) memory.
// It is not safe for concurrent use; the splitter is the single consumer.
type LineReader struct {
	file   *os.File
	br     *bufio.Reader
	line   int
	offset int64
	cfg    ReaderConfig

	encodingWarns   atomic.Int64
	truncationWarns atomic.Int64
}

// NewReader opens a reader over the whole source.
func (s *Source) NewReader(cfg ReaderConfig) (*LineReader, error) {
	return s.NewReaderAt(0, 1, cfg)
}

// NewReaderAt opens a reader starting at the given byte offset, which must
// fall on a line boundary (resume uses the byte range recorded for the last
// completed chunk). firstLine is the 1-based number of the first line the
// reader will produce.
func (s *Source) NewReaderAt(offset int64, firstLine int, cfg ReaderConfig) (*LineReader, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = DefaultMaxLineBytes
	}
	if firstLine <= 0 {
		firstLine = 1
	}

	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open log source %s: %w", s.Path, err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("seek log source %s to %d: %w", s.Path, offset, err)
		}
	}

	return &LineReader{
		file:   f,
		br:     bufio.NewReaderSize(f, cfg.BufferSize),
		line:   firstLine - 1,
		offset: offset,
		cfg:    cfg,
	}, nil
}

// Next returns the next line. Returns io.EOF when the source is exhausted.
func (r *LineReader) Next() (Line, error) {
	raw, rawLen, err := r.readRaw()
	if err != nil {
		return Line{}, err
	}

	r.line++
	line := Line{
		Number:   r.line,
		Offset:   r.offset,
		Text:     r.sanitize(raw),
		RawBytes: rawLen,
	}
	r.offset += rawLen
	return line, nil
}

// readRaw accumulates one line up to MaxLineBytes, then discards the rest of
// the line while still counting its raw size.
func (r *LineReader) readRaw() (string, int64, error) {
	var (
		buf       []byte
		rawLen    int64
		truncated bool
	)

	for {
		frag, err := r.br.ReadSlice('\n')
		rawLen += int64(len(frag))

		keep := frag
		if !truncated {
			if len(buf)+len(keep) > r.cfg.MaxLineBytes {
				keep = keep[:r.cfg.MaxLineBytes-len(buf)]
				truncated = true
			}
			buf = append(buf, keep...)
		}

		if err == nil {
			break // hit the newline
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			if rawLen == 0 {
				return "", 0, io.EOF
			}
			break // final line without newline
		}
		return "", 0, fmt.Errorf("read line %d: %w", r.line+1, err)
	}

	text := strings.TrimSuffix(string(buf), "\n")
	text = strings.TrimSuffix(text, "\r")
	if truncated {
		text += TruncationMarker
		r.truncationWarns.Add(1)
	}
	return text, rawLen, nil
}

// sanitize replaces invalid encoding sequences with the replacement rune and
// records an encoding warning when anything was replaced.
func (r *LineReader) sanitize(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	r.encodingWarns.Add(1)
	return strings.ToValidUTF8(s, replacementRune)
}

// Warnings returns the counts of recovered conditions so far.
func (r *LineReader) Warnings() Warnings {
	return Warnings{
		Encoding:   r.encodingWarns.Load(),
		Truncation: r.truncationWarns.Load(),
	}
}

// Close releases the underlying file.
func (r *LineReader) Close() error {
	return r.file.Close()
}
