package client

import (
	"bufio"
	"bytes"
	"io"
)

// MaxEventSize bounds a single SSE line.
const MaxEventSize = 1 << 20

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	reader *bufio.Reader
}

func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{reader: bufio.NewReaderSize(r, 64*1024)}
}

// ReadEvent returns the next event name and its data. Multiple data lines
// are joined with "\n". It returns io.EOF once the stream is exhausted and
// io.ErrUnexpectedEOF if the stream stops in the middle of an event.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte
	pending := false

	for {
		line, err := s.readLine()
		if err != nil {
			if err == io.EOF && pending {
				return "", nil, io.ErrUnexpectedEOF
			}
			return "", nil, err
		}

		if len(line) == 0 {
			if pending {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}
		if line[0] == ':' {
			continue
		}

		field, value := line, []byte(nil)
		if i := bytes.IndexByte(line, ':'); i >= 0 {
			field, value = line[:i], line[i+1:]
			value = bytes.TrimPrefix(value, []byte(" "))
		}
		switch string(field) {
		case "event":
			eventType = string(value)
			pending = true
		case "data":
			dataLines = append(dataLines, append([]byte(nil), value...))
			pending = true
		}
		// id and retry are not used by the relay
	}
}

func (s *SSEReader) readLine() ([]byte, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := s.reader.ReadLine()
		if err != nil {
			return nil, err
		}
		buf = append(buf, chunk...)
		if len(buf) > MaxEventSize {
			return nil, bufio.ErrTooLong
		}
		if !isPrefix {
			return buf, nil
		}
	}
}
