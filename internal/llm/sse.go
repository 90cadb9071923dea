package llm

import (
	"bufio"
	"io"
	"strings"
)

// sseDone is the OpenAI-style end marker some gateways send
const sseDone = "[DONE]"

// sseReader yields the data payloads of a server-sent event stream
type sseReader struct {
	scanner *bufio.Scanner
	body    io.Closer
}

func newSSEReader(body io.ReadCloser) *sseReader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseReader{scanner: scanner, body: body}
}

// Next returns the next data payload, or io.EOF at end of stream or [DONE]
func (r *sseReader) Next() (string, error) {
	for r.scanner.Scan() {
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if !strings.HasPrefix(line, "data:") {
			// event:, id:, retry:, comments and blank separators
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == sseDone {
			return "", io.EOF
		}
		if data == "" {
			continue
		}
		return data, nil
	}
	if err := r.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (r *sseReader) Close() error {
	return r.body.Close()
}
