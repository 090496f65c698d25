package codec

import (
	"buildpipe/errs"
	"buildpipe/message"
	"buildpipe/protocol"
	"encoding/binary"
	"strings"
)

// WriteResponse writes a Completed response frame.
func WriteResponse(f *protocol.Framer, resp *message.CompletedResponse) error {
	body := binary.LittleEndian.AppendUint32(nil, uint32(message.Completed))
	body = binary.LittleEndian.AppendUint32(body, uint32(resp.ExitCode))
	if resp.Utf8Output {
		body = append(body, 1)
	} else {
		body = append(body, 0)
	}

	// Compiler output in a legacy encoding is sent with U+FFFD in place
	// of the bytes that are not UTF-8.
	var err error
	if body, err = appendText(body, strings.ToValidUTF8(resp.Output, "\uFFFD")); err != nil {
		return err
	}
	if body, err = appendText(body, strings.ToValidUTF8(resp.ErrorOutput, "\uFFFD")); err != nil {
		return err
	}
	return writeResponseFrame(f, body)
}

// WriteMismatchedVersion writes a bodiless MismatchedVersion response frame.
func WriteMismatchedVersion(f *protocol.Framer) error {
	return writeResponseFrame(f, binary.LittleEndian.AppendUint32(nil, uint32(message.MismatchedVersion)))
}

func writeResponseFrame(f *protocol.Framer, body []byte) error {
	if err := f.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(body)))); err != nil {
		return err
	}
	return f.Write(body)
}

// ReadResponse reads and decodes one response frame.
//
// The leading size is consumed but not checked against the reads that follow.
// Decoding is all-or-nothing: on any failure the response is nil. A
// MismatchedVersion tag yields an errs.VersionMismatch error; anything else
// that goes wrong is errs.UnexpectedResponse.
func ReadResponse(f *protocol.Framer) (*message.CompletedResponse, error) {
	// Step 1: total length (informational)
	if _, err := f.Read(4); err != nil {
		return nil, unexpected(err)
	}

	// Step 2: response type tag
	tag, err := readInt32(f)
	if err != nil {
		return nil, unexpected(err)
	}
	switch message.ResponseType(tag) {
	case message.MismatchedVersion:
		return nil, errs.New(errs.VersionMismatch,
			"compiler server reports a different protocol version; client and server are out of sync")
	case message.Completed:
	default:
		return nil, errs.New(errs.UnexpectedResponse, "received an unexpected response from the compiler server")
	}

	// Step 3: Completed body
	exitCode, err := readInt32(f)
	if err != nil {
		return nil, unexpected(err)
	}
	flag, err := f.Read(1)
	if err != nil {
		return nil, unexpected(err)
	}
	output, err := readText(f)
	if err != nil {
		return nil, unexpected(err)
	}
	errorOutput, err := readText(f)
	if err != nil {
		return nil, unexpected(err)
	}

	return &message.CompletedResponse{
		ExitCode:    exitCode,
		Utf8Output:  flag[0] != 0,
		Output:      output,
		ErrorOutput: errorOutput,
	}, nil
}

func unexpected(err error) error {
	return errs.Wrap(errs.UnexpectedResponse, "received an unexpected response from the compiler server", err)
}

func readInt32(f *protocol.Framer) (int32, error) {
	b, err := f.Read(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func readText(f *protocol.Framer) (string, error) {
	count, err := readInt32(f)
	if err != nil {
		return "", err
	}
	size, err := checkTextLength(count)
	if err != nil {
		return "", err
	}
	units, err := f.Read(size)
	if err != nil {
		return "", err
	}
	return decodeText(units)
}
