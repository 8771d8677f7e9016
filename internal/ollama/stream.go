// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/jeranaias/rigchat/internal/logger"
)

// =============================================================================
// FRAME PARSER
// =============================================================================

// FrameParser reassembles newline-delimited JSON objects from arbitrarily
// chunked input. Chunk boundaries carry no meaning: an object may arrive
// split across many chunks and one chunk may carry many objects.
//
// A FrameParser is not safe for concurrent use.
type FrameParser struct {
	buf            []byte
	maxConsecutive int
	consecutive    int
	dropped        int
	log            *log.Logger
}

// NewFrameParser creates a parser that fails with ErrStreamCorrupt after
// maxConsecutive malformed lines in a row. maxConsecutive <= 0 never fails.
func NewFrameParser(maxConsecutive int, l *log.Logger) *FrameParser {
	return &FrameParser{
		maxConsecutive: maxConsecutive,
		log:            logger.OrDiscard(l),
	}
}

// Feed appends chunk to the internal buffer and returns every fragment that
// is now complete. Malformed lines are skipped and counted.
func (p *FrameParser) Feed(chunk []byte) ([]Fragment, error) {
	p.buf = append(p.buf, chunk...)

	var out []Fragment
	for {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx < 0 {
			break
		}
		line := p.buf[:idx]
		p.buf = p.buf[idx+1:]

		frag, ok, err := p.parseLine(line)
		if err != nil {
			return out, err
		}
		if ok {
			out = append(out, frag)
		}
	}

	// Servers sometimes omit the newline after the final object. Take the
	// tail as soon as it is a complete object so a terminal fragment is not
	// held back waiting for bytes that never arrive.
	if obj := stripNoise(p.buf); obj != nil && json.Valid(obj) {
		tail := p.buf
		p.buf = nil
		frag, ok, err := p.parseLine(tail)
		if err != nil {
			return out, err
		}
		if ok {
			out = append(out, frag)
		}
	}

	if len(p.buf) == 0 {
		p.buf = nil
	}
	return out, nil
}

// Flush parses whatever remains buffered, for use at end of input.
func (p *FrameParser) Flush() ([]Fragment, error) {
	if len(bytes.TrimSpace(p.buf)) == 0 {
		p.buf = nil
		return nil, nil
	}
	tail := p.buf
	p.buf = nil
	frag, ok, err := p.parseLine(tail)
	if err != nil || !ok {
		return nil, err
	}
	return []Fragment{frag}, nil
}

// Dropped returns how many malformed lines were discarded.
func (p *FrameParser) Dropped() int {
	return p.dropped
}

// Buffered returns the number of bytes held waiting for a line terminator.
func (p *FrameParser) Buffered() int {
	return len(p.buf)
}

// parseLine decodes one line. ok is false for lines that carry no object.
func (p *FrameParser) parseLine(line []byte) (Fragment, bool, error) {
	obj := stripNoise(line)
	if obj == nil {
		// Blank lines and keep-alive noise.
		return Fragment{}, false, nil
	}

	var cl chatLine
	if err := json.Unmarshal(obj, &cl); err != nil {
		p.dropped++
		p.consecutive++
		p.log.Warn("dropping malformed stream fragment",
			"error", err,
			"bytes", len(obj),
			"consecutive", p.consecutive,
		)
		if p.maxConsecutive > 0 && p.consecutive >= p.maxConsecutive {
			return Fragment{}, false, &ClientError{
				Type:    ErrTypeStreamCorrupt,
				Message: ErrStreamCorrupt.Message,
				Cause:   err,
			}
		}
		return Fragment{}, false, nil
	}
	p.consecutive = 0

	if cl.Error != "" {
		return Fragment{}, false, &ClientError{Type: ErrTypeInvalidResponse, Message: cl.Error}
	}
	return cl.fragment(), true, nil
}

// stripNoise returns line from its first '{' with surrounding whitespace
// removed, or nil if the line holds no object at all.
func stripNoise(line []byte) []byte {
	idx := bytes.IndexByte(line, '{')
	if idx < 0 {
		return nil
	}
	return bytes.TrimSpace(line[idx:])
}

// =============================================================================
// STREAM
// =============================================================================

// Stream is an open streaming response. Next is meant to be called from a
// single goroutine; Close may be called from any goroutine at any time and
// unblocks a pending Next.
type Stream struct {
	body    io.ReadCloser
	cancel  context.CancelFunc
	parser  *FrameParser
	readBuf []byte

	pending []Fragment
	done    bool
	eof     bool

	closed    atomic.Bool
	closeOnce sync.Once
}

func newStream(body io.ReadCloser, cancel context.CancelFunc, parser *FrameParser) *Stream {
	return &Stream{
		body:    body,
		cancel:  cancel,
		parser:  parser,
		readBuf: make([]byte, 4096),
	}
}

// NewStream wraps an arbitrary reader. Closing the Stream closes body.
func NewStream(body io.ReadCloser, maxConsecutive int, l *log.Logger) *Stream {
	return newStream(body, func() {}, NewFrameParser(maxConsecutive, l))
}

// Next returns the next fragment. After the terminal fragment it returns
// io.EOF. If the body ends before a terminal fragment the error satisfies
// IsConnectionError. Reading a closed stream returns ErrStreamClosed.
func (s *Stream) Next() (Fragment, error) {
	for {
		if len(s.pending) > 0 {
			frag := s.pending[0]
			s.pending = s.pending[1:]
			if frag.Done {
				s.done = true
				s.pending = nil
			}
			return frag, nil
		}
		if s.done {
			return Fragment{}, io.EOF
		}
		if s.closed.Load() {
			return Fragment{}, ErrStreamClosed
		}
		if s.eof {
			return Fragment{}, &ClientError{
				Type:    ErrTypeConnection,
				Message: "stream ended before terminal fragment",
			}
		}

		n, readErr := s.body.Read(s.readBuf)
		if n > 0 {
			frags, err := s.parser.Feed(s.readBuf[:n])
			s.pending = append(s.pending, frags...)
			if err != nil {
				return Fragment{}, err
			}
		}

		if readErr == nil {
			continue
		}
		if s.closed.Load() {
			return Fragment{}, ErrStreamClosed
		}
		if errors.Is(readErr, io.EOF) {
			s.eof = true
			frags, err := s.parser.Flush()
			s.pending = append(s.pending, frags...)
			if err != nil {
				return Fragment{}, err
			}
			continue
		}
		return Fragment{}, classifyReadError(readErr)
	}
}

// Close aborts the request and releases the body. Safe to call repeatedly.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		err = s.body.Close()
	})
	return err
}

// Dropped returns how many malformed fragments were skipped so far.
// Only call it from the goroutine calling Next.
func (s *Stream) Dropped() int {
	return s.parser.Dropped()
}

func classifyReadError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return &ClientError{Type: ErrTypeStreamClosed, Message: "stream cancelled", Cause: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &ClientError{Type: ErrTypeTimeout, Message: "stream timed out", Cause: err}
	default:
		return &ClientError{Type: ErrTypeConnection, Message: "stream read failed", Cause: err}
	}
}
