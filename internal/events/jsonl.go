package events

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// maxRecordSize bounds a single JSONL line.
const maxRecordSize = 16 * 1024 * 1024

type jsonlReader struct {
	scanner *bufio.Scanner
	closers []io.Closer
	line    int
}

func openJSONL(path string) (recordReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return newJSONLReader(f, f), nil
}

func openJSONLGzip(path string) (recordReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("gzip header: %w", err)
	}
	// Close the gzip stream before the file underneath it.
	return newJSONLReader(zr, zr, f), nil
}

func newJSONLReader(r io.Reader, closers ...io.Closer) *jsonlReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxRecordSize)
	return &jsonlReader{scanner: sc, closers: closers}
}

func (r *jsonlReader) Read() (*Event, error) {
	for r.scanner.Scan() {
		r.line++
		b := r.scanner.Bytes()
		if len(b) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(b, &ev); err != nil {
			return nil, fmt.Errorf("line %d: %w", r.line, err)
		}
		return &ev, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (r *jsonlReader) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// JSONLWriter writes events one per line.
type JSONLWriter struct {
	bw  *bufio.Writer
	enc *json.Encoder
}

// NewJSONLWriter returns a writer on w. Call Flush when done.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	bw := bufio.NewWriter(w)
	return &JSONLWriter{bw: bw, enc: json.NewEncoder(bw)}
}

// Write appends one event.
func (w *JSONLWriter) Write(ev *Event) error {
	return w.enc.Encode(ev)
}

// Flush flushes buffered records to the underlying writer.
func (w *JSONLWriter) Flush() error {
	return w.bw.Flush()
}
