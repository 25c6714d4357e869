package dht

import (
	"errors"
	"fmt"
)

// A KRPC error reply.
type Error struct {
	Code int
	Msg  string
}

func (e Error) Error() string {
	return fmt.Sprintf("KRPC error %d: %s", e.Code, e.Msg)
}

var (
	ErrorMethodUnknown = Error{Code: 204, Msg: "Method Unknown"}
	ErrorProtocol      = Error{Code: 203, Msg: "Protocol Error"}
)

var (
	errNoReturn  = errors.New("response has no return dictionary")
	ErrNoPort    = errors.New("no port specified")
	ErrBadTokens = errors.New("no token to announce with")
)
