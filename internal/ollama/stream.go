// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"encoding/json"
	"io"

	"go.uber.org/zap"
)

// =============================================================================
// NDJSON DECODER
// =============================================================================

// Decoder reassembles a byte stream into complete newline-delimited JSON
// records. It owns its accumulation buffer; construct one per call and
// discard it at stream end.
//
// The decoder never assumes a read boundary aligns with a record boundary:
// a record split across any number of reads is reassembled intact. Blank
// lines are discarded, malformed lines are logged and skipped, and a
// truncated final record (bytes after the last newline at end of stream)
// is dropped.
type Decoder struct {
	r   io.Reader
	buf []byte
	err error
	log *zap.Logger
}

// readChunk is the transfer size for each read from the underlying stream.
const readChunk = 4096

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader, log *zap.Logger) *Decoder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Decoder{r: r, log: log}
}

// Next returns the next complete JSON record, or io.EOF when the stream
// ends. Any other error is a transport failure from the underlying reader.
func (d *Decoder) Next() (json.RawMessage, error) {
	for {
		// Drain complete lines already buffered before reading more.
		for {
			idx := bytes.IndexByte(d.buf, '\n')
			if idx < 0 {
				break
			}
			line := bytes.TrimSpace(d.buf[:idx])
			d.buf = d.buf[idx+1:]

			if len(line) == 0 {
				continue
			}
			if !json.Valid(line) {
				d.log.Warn("skipping malformed stream record", zap.Int("bytes", len(line)))
				continue
			}

			record := make(json.RawMessage, len(line))
			copy(record, line)
			return record, nil
		}

		if d.err != nil {
			// Stream is exhausted. Whatever is left in the buffer has no
			// trailing newline and is discarded as truncated.
			if d.err == io.EOF && len(d.buf) > 0 {
				d.log.Warn("discarding truncated record at end of stream", zap.Int("bytes", len(d.buf)))
				d.buf = nil
			}
			return nil, d.err
		}

		chunk := make([]byte, readChunk)
		n, err := d.r.Read(chunk)
		if n > 0 {
			d.buf = append(d.buf, chunk[:n]...)
		}
		if err != nil {
			// Defer surfacing until buffered lines are drained.
			d.err = err
		}
	}
}
