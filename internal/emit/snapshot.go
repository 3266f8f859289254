package emit

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// WriteJSON writes o as indented JSON.
func WriteJSON(w io.Writer, o *Output) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(o); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}

// WriteSnapshot writes o as zstd-compressed JSON.
func WriteSnapshot(w io.Writer, o *Output) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	if err := json.NewEncoder(zw).Encode(o); err != nil {
		zw.Close()
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("closing zstd writer: %w", err)
	}
	return nil
}

// ReadSnapshot reads an output written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (*Output, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer zr.Close()

	var o Output
	if err := json.NewDecoder(zr).Decode(&o); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return &o, nil
}
