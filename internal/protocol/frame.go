package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Frame layout: decimal ASCII byte length terminated by '\n', then exactly
// that many bytes of UTF-8 JSON. A trailing newline after the body is
// tolerated. Both directions of both sockets use this framing.

// MaxFrameSize bounds a single frame body.
const MaxFrameSize = 128 * 1024 * 1024

var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// FrameReader reads length-prefixed frames from a stream.
type FrameReader struct {
	r *bufio.Reader
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r)}
}

// ReadFrame returns the next frame body. io.EOF signals a clean close.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	header, err := fr.r.ReadString('\n')
	if err != nil {
		if err == io.EOF && header == "" {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	header = trimLineEnding(header)
	n, err := strconv.Atoi(header)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("malformed frame length %q", header)
	}
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		return nil, fmt.Errorf("failed to read frame body: %w", err)
	}

	// Consume the optional trailing newline without blocking on it.
	if peeked, err := fr.r.Peek(1); err == nil && len(peeked) == 1 && peeked[0] == '\n' {
		_, _ = fr.r.Discard(1)
	}
	return body, nil
}

func trimLineEnding(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// WriteFrame writes one framed message to w.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	header := strconv.Itoa(len(body)) + "\n"
	if _, err := io.WriteString(w, header); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("failed to write frame body: %w", err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return fmt.Errorf("failed to write frame terminator: %w", err)
	}
	return nil
}
