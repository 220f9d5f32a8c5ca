package dispatch

import (
	"bytes"

	"github.com/infergate/infergate/services/providers"
)

var (
	eventSepCRLF = []byte("\r\n\r\n")
	eventSepLF   = []byte("\n\n")
	dataPrefix   = []byte("data:")
)

// sseScanner watches a relayed event stream for usage counts. It reassembles
// events across chunk boundaries and only inspects data lines, so arbitrary
// completion text can never be mistaken for usage. The stream itself is
// relayed verbatim elsewhere; the scanner sees a copy.
type sseScanner struct {
	adapter providers.Adapter
	buffer  []byte

	usage providers.Usage
	known bool
	done  bool
}

func newSSEScanner(adapter providers.Adapter) *sseScanner {
	return &sseScanner{adapter: adapter}
}

func (s *sseScanner) Feed(chunk []byte) {
	s.buffer = append(s.buffer, chunk...)
	s.scan(false)
}

// Usage flushes any trailing partial event and returns the last usage seen.
// Later events win: providers report cumulative counts on the final chunk.
func (s *sseScanner) Usage() (providers.Usage, bool) {
	s.scan(true)
	return s.usage, s.known
}

// Done reports whether the stream's logical end marker has been seen.
func (s *sseScanner) Done() bool {
	return s.done
}

func (s *sseScanner) scan(flush bool) {
	for {
		event, rest, ok := nextEvent(s.buffer, flush)
		if !ok {
			return
		}
		s.buffer = rest
		s.scanEvent(event)
	}
}

func nextEvent(buf []byte, flush bool) ([]byte, []byte, bool) {
	if idx := bytes.Index(buf, eventSepCRLF); idx >= 0 {
		return buf[:idx], buf[idx+len(eventSepCRLF):], true
	}
	if idx := bytes.Index(buf, eventSepLF); idx >= 0 {
		return buf[:idx], buf[idx+len(eventSepLF):], true
	}
	if flush {
		if trimmed := bytes.TrimSpace(buf); len(trimmed) > 0 {
			return trimmed, nil, true
		}
	}
	return nil, nil, false
}

func (s *sseScanner) scanEvent(event []byte) {
	for _, line := range bytes.Split(event, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := bytes.TrimSpace(bytes.TrimPrefix(line, dataPrefix))
		if len(payload) == 0 {
			continue
		}
		if s.adapter.StreamTerminated(payload) {
			s.done = true
			continue
		}
		if usage, ok := s.adapter.ExtractStreamUsage(payload); ok {
			s.usage = usage
			s.known = true
		}
	}
}
