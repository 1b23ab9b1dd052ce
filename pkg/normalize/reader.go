package normalize

import (
	"bufio"
	"io"
	"strings"
)

const (
	// readBlockSize is the fixed block size for incremental body reads.
	readBlockSize = 4 * 1024

	// maxLineSize caps how much partial-line data is buffered before a
	// stream is considered malformed.
	maxLineSize = 1024 * 1024
)

// openAIDoneSentinel terminates OpenAI-style event streams. It carries no
// record and is skipped outright.
const openAIDoneSentinel = "[DONE]"

// LineReader yields classification-ready records from an incremental
// response body. It reads in fixed-size blocks, buffers partial lines,
// splits on newline, strips an optional "data: " prefix, and skips blank
// lines and ":" comment lines. A trailing unterminated line is still
// yielded at end of stream.
type LineReader struct {
	scanner *bufio.Scanner
}

// NewLineReader wraps an incremental response body.
func NewLineReader(src io.Reader) *LineReader {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, readBlockSize), maxLineSize)

	return &LineReader{scanner: scanner}
}

// Next returns the next record line. It returns io.EOF when the source is
// exhausted and any other error when the underlying read fails.
func (r *LineReader) Next() (string, error) {
	for r.scanner.Scan() {
		line := strings.TrimSuffix(r.scanner.Text(), "\r")

		// Blank lines separate events and carry nothing.
		if line == "" {
			continue
		}

		// Lines starting with ':' are comments.
		if strings.HasPrefix(line, ":") {
			continue
		}

		if after, ok := strings.CutPrefix(line, "data:"); ok {
			line = strings.TrimPrefix(after, " ")
		}
		if line == "" || line == openAIDoneSentinel {
			continue
		}

		return line, nil
	}

	if err := r.scanner.Err(); err != nil {
		return "", err
	}

	return "", io.EOF
}
