package events

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Source is a forward-only iteration over events. Typical use:
//
//	for src.Next() {
//		ev := src.Event()
//	}
//	if err := src.Err(); err != nil { ... }
//
// The Event returned is valid until the next call to Next.
type Source interface {
	Next() bool
	Event() *Event
	Err() error
	Close() error
}

// ErrUnknownFormat is returned by Open for paths with an unsupported extension.
var ErrUnknownFormat = errors.New("unknown event file format")

// recordReader reads the events of a single file.
type recordReader interface {
	Read() (*Event, error) // io.EOF at end of file
	Close() error
}

type opener func(path string) (recordReader, error)

func openerFor(path string) (opener, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".jsonl.gz"):
		return openJSONLGzip, nil
	case strings.HasSuffix(lower, ".jsonl"):
		return openJSONL, nil
	case strings.HasSuffix(lower, ".pcap"):
		return openPCAP, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
}

// Open returns a Source over paths in order. Every path's format is checked
// up front; files themselves are opened lazily as the iteration reaches them.
func Open(paths []string) (Source, error) {
	openers := make([]opener, len(paths))
	for i, p := range paths {
		op, err := openerFor(p)
		if err != nil {
			return nil, err
		}
		openers[i] = op
	}
	return &fileSource{
		paths:   append([]string(nil), paths...),
		openers: openers,
	}, nil
}

type fileSource struct {
	paths   []string
	openers []opener
	next    int // index of the next file to open
	cur     recordReader
	ev      *Event
	err     error
	closed  bool
}

func (s *fileSource) Next() bool {
	if s.err != nil || s.closed {
		return false
	}
	for {
		if s.cur == nil {
			if s.next >= len(s.paths) {
				s.ev = nil
				return false
			}
			r, err := s.openers[s.next](s.paths[s.next])
			if err != nil {
				s.err = fmt.Errorf("opening %s: %w", s.paths[s.next], err)
				return false
			}
			s.cur = r
			s.next++
		}

		ev, err := s.cur.Read()
		if err == nil {
			s.ev = ev
			return true
		}
		path := s.paths[s.next-1]
		closeErr := s.cur.Close()
		s.cur = nil
		if !errors.Is(err, io.EOF) {
			s.err = fmt.Errorf("reading %s: %w", path, err)
			return false
		}
		if closeErr != nil {
			s.err = fmt.Errorf("closing %s: %w", path, closeErr)
			return false
		}
	}
}

func (s *fileSource) Event() *Event { return s.ev }

func (s *fileSource) Err() error { return s.err }

func (s *fileSource) Close() error {
	s.closed = true
	if s.cur == nil {
		return nil
	}
	err := s.cur.Close()
	s.cur = nil
	return err
}

// NewSliceSource returns a Source over events held in memory.
func NewSliceSource(evs []*Event) Source {
	return &sliceSource{events: evs, pos: -1}
}

type sliceSource struct {
	events []*Event
	pos    int
}

func (s *sliceSource) Next() bool {
	if s.pos+1 >= len(s.events) {
		s.pos = len(s.events)
		return false
	}
	s.pos++
	return true
}

func (s *sliceSource) Event() *Event {
	if s.pos < 0 || s.pos >= len(s.events) {
		return nil
	}
	return s.events[s.pos]
}

func (s *sliceSource) Err() error   { return nil }
func (s *sliceSource) Close() error { return nil }

// Count walks paths with a private Source and returns the number of events.
func Count(paths []string) (int, error) {
	src, err := Open(paths)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	n := 0
	for src.Next() {
		n++
	}
	return n, src.Err()
}
