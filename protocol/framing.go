package protocol

import (
	"bufio"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// Messages cross the transport length-delimited: a varint byte count
// followed by the message body, the same framing protodelim uses for
// generated messages.

// EncodeDelimited prepends the varint length prefix to an encoded message.
func EncodeDelimited(msg []byte) []byte {
	b := protowire.AppendVarint(nil, uint64(len(msg)))
	return append(b, msg...)
}

// DecodeDelimited strips the varint length prefix and returns the message
// body and the total number of bytes consumed.
func DecodeDelimited(data []byte) ([]byte, int, error) {
	size, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return nil, 0, fmt.Errorf("length prefix: %w", protowire.ParseError(n))
	}
	if uint64(len(data)-n) < size {
		return nil, 0, fmt.Errorf("truncated message: want %d bytes, have %d", size, len(data)-n)
	}
	return data[n : n+int(size)], n + int(size), nil
}

// WriteDelimited frames an encoded message onto w.
func WriteDelimited(w io.Writer, msg []byte) error {
	if _, err := w.Write(EncodeDelimited(msg)); err != nil {
		return fmt.Errorf("write delimited message: %w", err)
	}
	return nil
}

// ReadDelimited reads one length-delimited message from r.
func ReadDelimited(r *bufio.Reader) ([]byte, error) {
	size, err := readVarint(r)
	if err != nil {
		return nil, err
	}
	msg := make([]byte, size)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, fmt.Errorf("read delimited message: %w", err)
	}
	return msg, nil
}

func readVarint(r *bufio.Reader) (uint64, error) {
	var v uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("read length prefix: %w", err)
		}
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, fmt.Errorf("length prefix overflows varint")
		}
	}
}
