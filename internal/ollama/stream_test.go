// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"encoding/json"
	"io"
	"strings"
	"testing"
)

// chunkedReader yields the underlying data in fixed-size reads, so tests
// can force record boundaries to fall anywhere.
type chunkedReader struct {
	data []byte
	size int
	pos  int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := r.size
	if n > len(p) {
		n = len(p)
	}
	if r.pos+n > len(r.data) {
		n = len(r.data) - r.pos
	}
	copy(p, r.data[r.pos:r.pos+n])
	r.pos += n
	return n, nil
}

func decodeAll(t *testing.T, r io.Reader) []string {
	t.Helper()

	dec := NewDecoder(r, nil)
	var records []string
	for {
		raw, err := dec.Next()
		if err == io.EOF {
			return records
		}
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		records = append(records, string(raw))
	}
}

// TestDecoder_SplitInvariance verifies that decoding is independent of how
// the byte stream is chunked: every chunk size from 1 byte to the full
// stream yields the same ordered record sequence.
func TestDecoder_SplitInvariance(t *testing.T) {
	stream := `{"message":{"content":"Hel"},"done":false}` + "\n" +
		`{"message":{"content":"lo, "},"done":false}` + "\n" +
		`{"message":{"content":"world"},"done":false}` + "\n" +
		`{"message":{"content":""},"done":true}` + "\n"

	want := decodeAll(t, strings.NewReader(stream))
	if len(want) != 4 {
		t.Fatalf("reference decode produced %d records, want 4", len(want))
	}

	for size := 1; size <= len(stream); size++ {
		got := decodeAll(t, &chunkedReader{data: []byte(stream), size: size})
		if len(got) != len(want) {
			t.Fatalf("chunk size %d: got %d records, want %d", size, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("chunk size %d: record %d = %q, want %q", size, i, got[i], want[i])
			}
		}
	}
}

// TestDecoder_MalformedLinesSkipped verifies malformed lines are dropped
// while valid records keep their original relative order.
func TestDecoder_MalformedLinesSkipped(t *testing.T) {
	stream := `{"a":1}` + "\n" +
		`{not json` + "\n" +
		`{"b":2}` + "\n" +
		`also not json}` + "\n" +
		`{"c":3}` + "\n"

	got := decodeAll(t, strings.NewReader(stream))

	want := []string{`{"a":1}`, `{"b":2}`, `{"c":3}`}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("record %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDecoder_BlankLinesDiscarded(t *testing.T) {
	stream := "\n\n" + `{"a":1}` + "\n" + "   \n\t\n" + `{"b":2}` + "\n\n"

	got := decodeAll(t, strings.NewReader(stream))

	if len(got) != 2 {
		t.Fatalf("got %d records, want 2: %v", len(got), got)
	}
	if got[0] != `{"a":1}` || got[1] != `{"b":2}` {
		t.Errorf("records = %v", got)
	}
}

// TestDecoder_TruncatedFinalRecordDropped verifies that bytes after the
// last newline are discarded at end of stream, not emitted as a record.
func TestDecoder_TruncatedFinalRecordDropped(t *testing.T) {
	stream := `{"a":1}` + "\n" + `{"b":`

	got := decodeAll(t, strings.NewReader(stream))

	if len(got) != 1 {
		t.Fatalf("got %d records, want 1: %v", len(got), got)
	}
	if got[0] != `{"a":1}` {
		t.Errorf("record = %q", got[0])
	}
}

// TestDecoder_RecordLargerThanReadChunk verifies reassembly of a record
// that spans several reads of the internal chunk size.
func TestDecoder_RecordLargerThanReadChunk(t *testing.T) {
	big := strings.Repeat("x", 3*readChunk)
	record := `{"content":"` + big + `"}`
	stream := record + "\n"

	got := decodeAll(t, strings.NewReader(stream))

	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}

	var decoded struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(got[0]), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Content != big {
		t.Errorf("content length = %d, want %d", len(decoded.Content), len(big))
	}
}

func TestDecoder_EmptyStream(t *testing.T) {
	dec := NewDecoder(strings.NewReader(""), nil)
	if _, err := dec.Next(); err != io.EOF {
		t.Errorf("Next() on empty stream = %v, want io.EOF", err)
	}
}
