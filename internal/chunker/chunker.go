// Package chunker splits document text into overlapping word windows.
package chunker

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultChunkSize is the default number of words per window.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of words shared by consecutive windows.
const DefaultChunkOverlap = 200

// ErrInvalidChunkConfig is returned when size and overlap cannot make progress.
var ErrInvalidChunkConfig = errors.New("invalid chunk configuration")

// Window is one chunk of text. Start and End are word offsets into the
// source text, End exclusive.
type Window struct {
	Ordinal int
	Start   int
	End     int
	Text    string
}

// Splitter produces word windows of a fixed size.
type Splitter struct {
	size    int
	overlap int
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithChunkSize sets the window size in words.
func WithChunkSize(size int) Option {
	return func(s *Splitter) { s.size = size }
}

// WithOverlap sets the number of words repeated between consecutive windows.
func WithOverlap(overlap int) Option {
	return func(s *Splitter) { s.overlap = overlap }
}

// New returns a Splitter, rejecting configurations where the window would
// not advance.
func New(opts ...Option) (*Splitter, error) {
	s := &Splitter{size: DefaultChunkSize, overlap: DefaultChunkOverlap}
	for _, opt := range opts {
		opt(s)
	}
	if err := validate(s.size, s.overlap); err != nil {
		return nil, err
	}
	return s, nil
}

func validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: size %d must be positive", ErrInvalidChunkConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidChunkConfig, overlap, size)
	}
	return nil
}

// Size returns the window size in words.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the overlap in words.
func (s *Splitter) Overlap() int { return s.overlap }

// Split tokenises text on whitespace and returns its windows in order.
// Text of at most Size words yields a single window; empty text yields none.
func (s *Splitter) Split(text string) []Window {
	words := strings.Fields(text)
	n := len(words)
	if n == 0 {
		return nil
	}

	step := s.size - s.overlap
	windows := make([]Window, 0, (n+step-1)/step)
	for start := 0; start < n; start += step {
		end := min(start+s.size, n)
		windows = append(windows, Window{
			Ordinal: len(windows),
			Start:   start,
			End:     end,
			Text:    strings.Join(words[start:end], " "),
		})
		if end == n {
			break
		}
	}
	return windows
}

// Split is a convenience wrapper around New(...).Split.
func Split(text string, size, overlap int) ([]Window, error) {
	s, err := New(WithChunkSize(size), WithOverlap(overlap))
	if err != nil {
		return nil, err
	}
	return s.Split(text), nil
}
