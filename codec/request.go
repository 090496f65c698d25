package codec

import (
	"buildpipe/message"
	"buildpipe/protocol"
	"encoding/binary"
	"fmt"
)

// EncodeRequest serializes req without the leading size field.
// Arguments are written in slice order. It fails, without touching any
// channel, when a value is not valid UTF-8 or the result is too large.
func EncodeRequest(req *message.Request) ([]byte, error) {
	buf := make([]byte, 0, 12+len(req.Arguments)*16)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(req.ProtocolVersion))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(req.Language))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(req.Arguments)))

	for _, arg := range req.Arguments {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(arg.ID))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(arg.Index))
		var err error
		if buf, err = appendText(buf, arg.Value); err != nil {
			return nil, err
		}
	}
	if len(buf) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLong, len(buf))
	}
	return buf, nil
}

// WriteRequest encodes req and writes it with WritePayload.
func WriteRequest(f *protocol.Framer, req *message.Request) error {
	payload, err := EncodeRequest(req)
	if err != nil {
		return err
	}
	return WritePayload(f, payload)
}

// WritePayload writes the payload size as its own framing write, then the payload.
func WritePayload(f *protocol.Framer, payload []byte) error {
	size := binary.LittleEndian.AppendUint32(nil, uint32(len(payload)))
	if err := f.Write(size); err != nil {
		return err
	}
	return f.Write(payload)
}

// DecodeRequest parses a payload produced by EncodeRequest.
func DecodeRequest(payload []byte) (*message.Request, error) {
	r := &payloadReader{data: payload}

	version, err := r.int32()
	if err != nil {
		return nil, err
	}
	lang, err := r.int32()
	if err != nil {
		return nil, err
	}
	count, err := r.int32()
	if err != nil {
		return nil, err
	}
	// Every argument takes at least 12 bytes, which bounds a sane count.
	if count < 0 || int(count) > (len(payload)-r.off)/12 {
		return nil, fmt.Errorf("%w: argument count %d", ErrTruncated, count)
	}

	req := &message.Request{
		ProtocolVersion: version,
		Language:        message.Language(lang),
		Arguments:       make([]message.Argument, 0, count),
	}
	for i := int32(0); i < count; i++ {
		id, err := r.int32()
		if err != nil {
			return nil, err
		}
		index, err := r.int32()
		if err != nil {
			return nil, err
		}
		value, err := r.text()
		if err != nil {
			return nil, err
		}
		req.Arguments = append(req.Arguments, message.Argument{
			ID:    message.ArgumentID(id),
			Index: index,
			Value: value,
		})
	}
	if r.off != len(payload) {
		return nil, fmt.Errorf("codec: %d trailing bytes after request", len(payload)-r.off)
	}
	return req, nil
}

// ReadRequest reads one size-prefixed request frame.
func ReadRequest(f *protocol.Framer) (*message.Request, error) {
	sizeBuf, err := f.Read(4)
	if err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(sizeBuf)
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLong, size)
	}
	payload, err := f.Read(int(size))
	if err != nil {
		return nil, err
	}
	return DecodeRequest(payload)
}
