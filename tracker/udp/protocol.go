package udp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

type Action int32

// BEP 15
const (
	ActionConnect Action = iota
	ActionAnnounce
	ActionScrape
	ActionError
)

func (a Action) String() string {
	switch a {
	case ActionConnect:
		return "connect"
	case ActionAnnounce:
		return "announce"
	case ActionScrape:
		return "scrape"
	case ActionError:
		return "error"
	}
	return fmt.Sprintf("action %d", int32(a))
}

func (a Action) Known() bool {
	return a >= ActionConnect && a <= ActionError
}

type (
	ConnectionId  = uint64
	TransactionId = uint32
)

// The magic protocol id in place of a connection id on connect requests.
const ConnectRequestConnectionId ConnectionId = 0x41727101980

const (
	requestHeaderLen  = 16
	responseHeaderLen = 8
	// Smallest datagram that can be a response.
	MinResponseLen = responseHeaderLen
	ConnectLen     = requestHeaderLen
	// Header plus the announce body.
	AnnounceRequestLen = requestHeaderLen + 82
)

type RequestHeader struct {
	ConnectionId  ConnectionId
	Action        Action
	TransactionId TransactionId
} // 16 bytes

type ResponseHeader struct {
	Action        Action
	TransactionId TransactionId
}

type ConnectionResponse struct {
	ConnectionId ConnectionId
}

func Write(w io.Writer, data any) error {
	return binary.Write(w, binary.BigEndian, data)
}

// data must be a pointer to fixed-size data.
func Read(r io.Reader, data any) error {
	return binary.Read(r, binary.BigEndian, data)
}

func mustMarshal(data any) []byte {
	var buf bytes.Buffer
	err := Write(&buf, data)
	if err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// A datagram from a tracker, split into the header and whatever follows it.
type Response struct {
	Header ResponseHeader
	Body   []byte
}

// Tracker responses start with a 4 byte action in the known range. That's how they're told apart
// from other protocols on a shared socket.
func LooksLikeResponse(b []byte) bool {
	if len(b) < MinResponseLen {
		return false
	}
	return Action(binary.BigEndian.Uint32(b)).Known()
}

func ParseResponse(b []byte) (ret Response, err error) {
	if len(b) < MinResponseLen {
		err = fmt.Errorf("response is %d bytes, need at least %d", len(b), MinResponseLen)
		return
	}
	r := bytes.NewReader(b)
	err = Read(r, &ret.Header)
	if err != nil {
		return
	}
	if !ret.Header.Action.Known() {
		err = fmt.Errorf("unknown response %v", ret.Header.Action)
		return
	}
	ret.Body = bytes.Clone(b[responseHeaderLen:])
	return
}

func (r Response) Bytes() []byte {
	return append(mustMarshal(r.Header), r.Body...)
}

type ErrorResponse struct {
	Message string
}

func (me ErrorResponse) Error() string {
	return fmt.Sprintf("error response: %#q", me.Message)
}
