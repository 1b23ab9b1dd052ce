package normalize

import (
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/lanternworks/relay/pkg/chunk"
	"github.com/lanternworks/relay/pkg/invoke"
	"github.com/lanternworks/relay/pkg/utils"
)

// Normalizer turns a raw backend response into an ordered chunk stream.
// Whatever the response shape and whatever goes wrong while reading it, the
// resulting stream always ends in exactly one completion and never
// propagates an error to the caller.
type Normalizer struct {
	classifier *Classifier
	logger     *zap.Logger
}

// NewNormalizer creates a normalizer using the given classifier.
func NewNormalizer(classifier *Classifier, logger *zap.Logger) *Normalizer {
	if classifier == nil {
		classifier = NewClassifier(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Normalizer{classifier: classifier, logger: logger}
}

// Normalize wraps the response in a chunk stream. Incremental bodies are
// consumed lazily as the stream is drained; composite values are classified
// once; raw bytes and plain text become a single content chunk.
func (n *Normalizer) Normalize(resp *invoke.Response) *Stream {
	s := &Stream{classifier: n.classifier, logger: n.logger}

	switch {
	case resp.Empty():
		// Nothing to read; the stream yields only the terminal completion.
	case resp.Body != nil:
		s.reader = NewLineReader(resp.Body)
		s.body = resp.Body
	case resp.Value != nil:
		if c, err := n.classifier.Classify(resp.Value); err == nil {
			s.queue = append(s.queue, c)
		} else {
			n.logger.Debug("dropping unrecognized response value")
		}
	case resp.Raw != nil:
		s.queue = append(s.queue, chunk.NewContent(string(resp.Raw)))
	default:
		s.queue = append(s.queue, chunk.NewContent(resp.Text))
	}

	return s
}

// Stream yields normalized chunks in production order. After the terminal
// completion, Next returns nil forever.
type Stream struct {
	classifier *Classifier
	logger     *zap.Logger

	reader *LineReader
	body   io.Closer
	queue  []*chunk.Chunk

	terminalSent bool
	done         bool
}

// Next returns the next chunk, or nil once the stream has ended.
func (s *Stream) Next() *chunk.Chunk {
	if s.done {
		return nil
	}

	if len(s.queue) > 0 {
		return s.pop()
	}

	if s.reader != nil {
		for {
			line, err := s.reader.Next()
			if errors.Is(err, io.EOF) {
				s.closeBody()
				s.reader = nil
				break
			}
			if err != nil {
				s.logger.Warn("response stream read failed", zap.Error(err))
				s.closeBody()
				s.reader = nil
				s.queue = append(s.queue,
					chunk.NewError("stream_read_failed", err.Error()),
					chunk.NewCompletion(nil),
				)
				return s.pop()
			}

			c, cerr := s.classifier.Classify(line)
			if cerr != nil {
				s.logger.Debug("dropping unrecognized record",
					zap.String("record", utils.Truncate(line, 256)),
				)
				continue
			}

			return s.deliver(c)
		}
	}

	// Input exhausted: close out with exactly one terminal completion.
	s.done = true
	if s.terminalSent {
		return nil
	}
	s.terminalSent = true

	return chunk.NewCompletion(nil)
}

// Collect drains the stream into a slice.
func (s *Stream) Collect() []*chunk.Chunk {
	var chunks []*chunk.Chunk
	for c := s.Next(); c != nil; c = s.Next() {
		chunks = append(chunks, c)
	}

	return chunks
}

func (s *Stream) pop() *chunk.Chunk {
	c := s.queue[0]
	s.queue = s.queue[1:]

	return s.deliver(c)
}

// deliver hands a chunk to the caller. A classified completion terminates
// the stream immediately; anything left unread is discarded.
func (s *Stream) deliver(c *chunk.Chunk) *chunk.Chunk {
	if c.Terminal() {
		s.terminalSent = true
		s.done = true
		s.closeBody()
		s.reader = nil
		s.queue = nil
	}

	return c
}

func (s *Stream) closeBody() {
	if s.body == nil {
		return
	}
	if err := s.body.Close(); err != nil {
		s.logger.Debug("closing response body failed", zap.Error(err))
	}
	s.body = nil
}
