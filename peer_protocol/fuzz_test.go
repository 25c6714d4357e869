package peer_protocol

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/go-quicktest/qt"
)

func FuzzDecoder(f *testing.F) {
	f.Add([]byte("\x00\x00\x00\x00"))
	f.Add([]byte("\x00\x00\x00\x01\x00"))
	f.Add([]byte("\x00\x00\x00\x03\x14\x00"))
	f.Add([]byte("\x00\x00\x00\x01\x07"))
	f.Fuzz(func(t *testing.T, b []byte) {
		t.Logf("%q", b)
		d := Decoder{
			R:         bufio.NewReader(bytes.NewReader(b)),
			MaxLength: 0x100,
		}
		var ms []Message
		for {
			var m Message
			err := d.Decode(&m)
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Skip(err)
			}
			if m.Kind == KindInvalid {
				t.Skip(m)
			}
			ms = append(ms, m)
		}
		var buf bytes.Buffer
		for _, m := range ms {
			buf.Write(m.MustMarshalBinary())
		}
		if len(b) == 0 {
			qt.Assert(t, qt.HasLen(buf.Bytes(), 0))
		} else {
			qt.Assert(t, qt.DeepEquals(buf.Bytes(), b))
		}
	})
}

func FuzzDecode(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte("\x00\x00\x00\x05\x04\x00\x00\x00\x2a"))
	f.Add([]byte(Protocol + "\x00\x00\x00\x00\x00\x00\x00\x00"))
	f.Fuzz(func(t *testing.T, b []byte) {
		m := Decode(b)
		qt.Assert(t, qt.IsTrue(m.Len() <= len(b)))
		if len(b) != 0 {
			qt.Assert(t, qt.Not(qt.Equals(m.Len(), 0)))
		}
		if m.Kind == KindInvalid || m.Kind == KindEmpty {
			return
		}
		qt.Assert(t, qt.DeepEquals(m.MustMarshalBinary(), b[:m.Len()]))
	})
}
