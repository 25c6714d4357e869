package peer_protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var ErrMessageTooLong = errors.New("message too long")

// Splits a stream into length-prefixed frames and decodes each with Decode. Frames split across
// reads are reassembled. Malformed frames come out as Invalid messages, not errors; errors are
// only for the stream itself.
type Decoder struct {
	R *bufio.Reader
	// Largest length prefix accepted. Zero means no limit.
	MaxLength Integer

	buf []byte
}

// io.EOF is returned if the source terminates cleanly on a message boundary.
func (d *Decoder) Decode(msg *Message) (err error) {
	var head [lengthLen]byte
	_, err = io.ReadFull(d.R, head[:])
	if err != nil {
		if err != io.EOF {
			err = fmt.Errorf("reading message length: %w", err)
		}
		return
	}
	length := Integer(binary.BigEndian.Uint32(head[:]))
	if length == 0 {
		*msg = Keepalive()
		return nil
	}
	if d.MaxLength != 0 && length > d.MaxLength {
		return fmt.Errorf("%w: %d", ErrMessageTooLong, length)
	}
	need := lengthLen + length.Int()
	if cap(d.buf) < need {
		d.buf = make([]byte, need)
	}
	d.buf = d.buf[:need]
	copy(d.buf, head[:])
	_, err = io.ReadFull(d.R, d.buf[lengthLen:])
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("reading %d byte message: %w", length, err)
	}
	*msg = Decode(d.buf)
	return nil
}
