// Package codec serializes state payloads and splits oversized values into
// column-sized chunks.
//
// Wide-column stores cap the size of a single attribute column. Values above
// MaxColumnSize are stored as a sequence of chunk columns and reassembled on
// read; the split is transparent to callers, who only ever see the whole
// value.
package codec

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// MaxColumnSize is the largest payload stored in a single attribute column.
// Longer values are split into chunks of at most this many bytes.
const MaxColumnSize = 1_500_000

// Encode serializes v to its JSON text form.
func Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	return string(b), nil
}

// DecodeMap parses a JSON object into a map. The empty string decodes to nil.
func DecodeMap(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("decode json object: %w", err)
	}
	return m, nil
}

// DecodeStrings parses a JSON array of strings. The empty string decodes to
// nil.
func DecodeStrings(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("decode json string array: %w", err)
	}
	return out, nil
}

// Split cuts data into chunks of at most max bytes. Cuts back off to the
// previous rune boundary so every chunk stays valid UTF-8; only data that is
// not valid UTF-8 to begin with gets split mid-sequence. An empty input
// yields no chunks.
func Split(data string, max int) ([]string, error) {
	if max <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", max)
	}
	if data == "" {
		return nil, nil
	}

	var chunks []string
	for len(data) > max {
		cut := max
		for cut > 0 && !utf8.RuneStart(data[cut]) {
			cut--
		}
		if cut == 0 {
			cut = max
		}
		chunks = append(chunks, data[:cut])
		data = data[cut:]
	}
	return append(chunks, data), nil
}

// Join reassembles chunks produced by Split.
func Join(chunks []string) string {
	switch len(chunks) {
	case 0:
		return ""
	case 1:
		return chunks[0]
	}
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]byte, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return string(out)
}
