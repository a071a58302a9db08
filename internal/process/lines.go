package process

import (
	"bufio"
	"io"
	"strings"
)

// Stream names the output pipe a line came from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// maxLineSize caps a single output line. Forge prints long stack traces but
// never a single line near this size.
const maxLineSize = 1024 * 1024

// Line is one complete, non-empty line of child output.
type Line struct {
	Stream Stream
	Text   string
}

// LineFunc receives output lines. It is called from the reader goroutine of
// the line's stream, so lines of one stream arrive in order and lines of
// different streams may interleave.
type LineFunc func(Line)

// readLines delivers every non-empty line of r to fn until EOF or a read
// error. A trailing carriage return is stripped.
func readLines(stream Stream, r io.Reader, fn LineFunc) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		text := strings.TrimRight(sc.Text(), "\r")
		if text == "" {
			continue
		}
		if fn != nil {
			fn(Line{Stream: stream, Text: text})
		}
	}
	return sc.Err()
}
