// Package console prints a compilation's output the way the compiler would.
package console

import (
	"buildpipe/message"
	"fmt"
	"io"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// Writer sends compiler output to stdout and compiler errors to stderr.
// Output that the client did not request as UTF-8 is transcoded to the
// configured console encoding; characters it cannot represent are replaced.
type Writer struct {
	stdout io.Writer
	stderr io.Writer
	enc    encoding.Encoding // nil passes text through unchanged
}

// NewWriter creates a Writer. An empty encodingName disables transcoding.
func NewWriter(stdout, stderr io.Writer, encodingName string) (*Writer, error) {
	w := &Writer{stdout: stdout, stderr: stderr}
	if encodingName == "" {
		return w, nil
	}
	enc, err := htmlindex.Get(encodingName)
	if err != nil {
		return nil, fmt.Errorf("console: unknown encoding %q: %w", encodingName, err)
	}
	w.enc = enc
	return w, nil
}

// Write prints resp.Output then resp.ErrorOutput.
func (w *Writer) Write(resp *message.CompletedResponse) error {
	if err := w.print(w.stdout, resp.Output, resp.Utf8Output); err != nil {
		return err
	}
	return w.print(w.stderr, resp.ErrorOutput, resp.Utf8Output)
}

func (w *Writer) print(out io.Writer, text string, utf8Output bool) error {
	if text == "" {
		return nil
	}
	if utf8Output || w.enc == nil {
		_, err := io.WriteString(out, text)
		return err
	}
	converted, err := encoding.ReplaceUnsupported(w.enc.NewEncoder()).String(text)
	if err != nil {
		return fmt.Errorf("console: transcode output: %w", err)
	}
	_, err = io.WriteString(out, converted)
	return err
}
