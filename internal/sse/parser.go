// Package sse decodes server-sent event bodies into JSON values.
//
// Only "data:" lines matter. Chunks from the network rarely end on a line
// boundary, so the Parser keeps the unterminated tail of each chunk and
// joins it with the next one before splitting.
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const dataPrefix = "data:"

// readSize is the chunk size Scan reads from the body.
const readSize = 32 * 1024

// Value is one decoded data payload.
type Value = map[string]any

// Parser turns byte chunks into decoded data payloads. The zero value is
// ready to use. A Parser is not safe for concurrent use.
type Parser struct {
	buf []byte
}

// Feed consumes chunk and returns the payloads of all data lines it
// completed, in order. Bytes after the last line terminator are held until
// a later Feed completes the line.
func (p *Parser) Feed(chunk []byte) []Value {
	p.buf = append(p.buf, chunk...)

	var out []Value
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		line := p.buf[:i]
		if v, ok := decodeLine(line); ok {
			out = append(out, v)
		}
		p.buf = p.buf[i+1:]
	}

	// Compact so a long stream does not keep every consumed chunk alive.
	if len(p.buf) == 0 {
		p.buf = nil
	} else if cap(p.buf) > readSize && len(p.buf) < cap(p.buf)/4 {
		p.buf = append([]byte(nil), p.buf...)
	}
	return out
}

// Pending returns the number of buffered bytes not yet terminated.
func (p *Parser) Pending() int {
	return len(p.buf)
}

// Reset discards any buffered partial line.
func (p *Parser) Reset() {
	p.buf = nil
}

// decodeLine strips the data field prefix and decodes the remainder as a
// JSON object. Other fields, comments and malformed payloads are ignored.
func decodeLine(line []byte) (Value, bool) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return nil, false
	}
	payload := bytes.TrimPrefix(line[len(dataPrefix):], []byte{' '})
	if len(payload) == 0 || payload[0] != '{' {
		return nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var v Value
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	return v, true
}

// Scan reads r until EOF, feeding each read through a Parser and calling fn
// for every decoded payload. A partial line left at EOF is discarded. Scan
// stops at the first error returned by fn or by r; io.EOF is not an error.
func Scan(r io.Reader, fn func(Value) error) error {
	var p Parser
	buf := make([]byte, readSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, v := range p.Feed(buf[:n]) {
				if ferr := fn(v); ferr != nil {
					return ferr
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("sse: read: %w", err)
		}
	}
}
