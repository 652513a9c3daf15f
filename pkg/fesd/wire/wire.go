package wire

import (
	"errors"
	"strconv"
	"strings"
)

var (
	ErrMalformed = errors.New("malformed frame")
	ErrChecksum  = errors.New("checksum mismatch")
	ErrOverflow  = errors.New("frame too long")
)

const (
	StatusOK  = "OK"
	StatusErr = "ERR"
)

// Request is one command addressed to a slot on a bus. Requests without an
// address are answered by whichever device controls the bus.
type Request struct {
	Opcode    string
	Query     bool
	Addressed bool
	Slot      uint16
	Args      []string
}

func Set(opcode string, slot uint16, args ...string) Request {
	return Request{Opcode: opcode, Addressed: true, Slot: slot, Args: args}
}

func Query(opcode string, slot uint16, args ...string) Request {
	return Request{Opcode: opcode, Query: true, Addressed: true, Slot: slot, Args: args}
}

func Unaddressed(opcode string, query bool, args ...string) Request {
	return Request{Opcode: opcode, Query: query, Args: args}
}

// Command is the opcode as it travels on the wire, with the query mark.
func (r Request) Command() string {
	if r.Query {
		return r.Opcode + "?"
	}
	return r.Opcode
}

func (r Request) String() string {
	parts := []string{r.Command()}
	if r.Addressed {
		parts = append(parts, strconv.FormatUint(uint64(r.Slot), 10))
	}
	parts = append(parts, r.Args...)
	return strings.Join(parts, " ")
}

// Response is a decoded device reply. Command echoes the request command so
// late replies to a different request can be told apart. Replies to
// path-scoped commands also echo the path as Scope.
type Response struct {
	Addressed bool
	Slot      uint16
	Scope     string
	Command   string
	Payload   []string
	Status    string
	Code      string
	Detail    string
}

func (r Response) OK() bool {
	return r.Status == StatusOK
}

// Matches reports whether the response answers req.
func (r Response) Matches(req Request) bool {
	if r.Command != req.Command() {
		return false
	}
	// a scoped reply answers the request whose first argument it echoes
	if r.Scope != "" && (len(req.Args) == 0 || r.Scope != req.Args[0]) {
		return false
	}
	if req.Addressed {
		return r.Addressed && r.Slot == req.Slot
	}
	return true
}

// Codec is the framing used on a port. Decode functions return a nil value
// and the untouched buffer while a frame is incomplete; on error the returned
// rest is what remains after dropping the bad frame.
type Codec interface {
	EncodeRequest(req Request) []byte
	DecodeRequest(buf []byte) (*Request, []byte, error)
	EncodeResponse(resp Response) []byte
	DecodeResponse(buf []byte) (*Response, []byte, error)
}
