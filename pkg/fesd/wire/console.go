package wire

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
)

const (
	requestTerminator  = "\r"
	responseTerminator = "\r\n>"
	lineSeparator      = "\r\n"
	checksumMark       = "*"
	broadcastAddress   = "*"

	DefaultMaxFrameSize = 512
)

// ConsoleCodec frames commands the way the front-end console does, with a
// CRC-32 suffix on every request and response.
//
//	request:  BODY*CCCCCCCC\r
//	response: [ ADDR [SCOPE] ] COMMAND PAYLOAD...\r\nSTATUS*CCCCCCCC\r\n>
type ConsoleCodec struct {
	MaxFrameSize int
}

var _ Codec = ConsoleCodec{}

func NewConsoleCodec() ConsoleCodec {
	return ConsoleCodec{MaxFrameSize: DefaultMaxFrameSize}
}

func (c ConsoleCodec) maxFrame() int {
	if c.MaxFrameSize <= 0 {
		return DefaultMaxFrameSize
	}
	return c.MaxFrameSize
}

func (c ConsoleCodec) EncodeRequest(req Request) []byte {
	body := req.String()
	return []byte(body + checksumMark + checksum(body) + requestTerminator)
}

func (c ConsoleCodec) DecodeRequest(buf []byte) (*Request, []byte, error) {
	idx := bytes.IndexByte(buf, '\r')
	if idx < 0 {
		if len(buf) > c.maxFrame() {
			return nil, nil, ErrOverflow
		}
		return nil, buf, nil
	}
	line := strings.TrimLeft(string(buf[:idx]), "\x03\n\t ")
	rest := buf[idx+1:]

	body, err := verify(line)
	if err != nil {
		return nil, rest, err
	}
	tokens := strings.Fields(body)
	if len(tokens) == 0 {
		return nil, rest, ErrMalformed
	}
	req := Request{Opcode: tokens[0]}
	if strings.HasSuffix(req.Opcode, "?") {
		req.Query = true
		req.Opcode = strings.TrimSuffix(req.Opcode, "?")
	}
	args := tokens[1:]
	if len(args) > 0 {
		if slot, err := strconv.ParseUint(args[0], 10, 16); err == nil {
			req.Addressed = true
			req.Slot = uint16(slot)
			args = args[1:]
		}
	}
	if len(args) > 0 {
		req.Args = args
	}
	return &req, rest, nil
}

func (c ConsoleCodec) EncodeResponse(resp Response) []byte {
	addr := broadcastAddress
	if resp.Addressed {
		addr = strconv.FormatUint(uint64(resp.Slot), 10)
	}
	head := []string{"[", addr}
	if resp.Scope != "" {
		head = append(head, resp.Scope)
	}
	head = append(head, "]", resp.Command)
	header := strings.Join(append(head, resp.Payload...), " ")

	status := resp.Status
	if status == "" {
		status = StatusOK
	}
	if status == StatusErr {
		status = strings.TrimSpace(strings.Join([]string{StatusErr, resp.Code, resp.Detail}, " "))
	}
	content := header + lineSeparator + status
	return []byte(content + checksumMark + checksum(content) + responseTerminator)
}

func (c ConsoleCodec) DecodeResponse(buf []byte) (*Response, []byte, error) {
	start := bytes.IndexByte(buf, '[')
	if start < 0 {
		// nothing but line noise so far
		return nil, buf[:0], nil
	}
	buf = buf[start:]
	end := bytes.Index(buf, []byte(responseTerminator))
	if end < 0 {
		if len(buf) > c.maxFrame() {
			return nil, nil, ErrOverflow
		}
		return nil, buf, nil
	}
	frame := string(buf[:end])
	rest := buf[end+len(responseTerminator):]

	content, err := verify(frame)
	if err != nil {
		return nil, rest, err
	}
	lines := strings.Split(content, lineSeparator)
	if len(lines) != 2 {
		return nil, rest, fmt.Errorf("%w: expected 2 lines, got %d", ErrMalformed, len(lines))
	}

	resp, err := parseHeader(lines[0])
	if err != nil {
		return nil, rest, err
	}
	status := strings.Fields(lines[1])
	if len(status) == 0 {
		return nil, rest, fmt.Errorf("%w: empty status", ErrMalformed)
	}
	switch status[0] {
	case StatusOK:
		resp.Status = StatusOK
	case StatusErr:
		resp.Status = StatusErr
		if len(status) > 1 {
			resp.Code = status[1]
		}
		if len(status) > 2 {
			resp.Detail = strings.Join(status[2:], " ")
		}
	default:
		return nil, rest, fmt.Errorf("%w: unknown status %q", ErrMalformed, status[0])
	}
	return resp, rest, nil
}

func parseHeader(line string) (*Response, error) {
	tokens := strings.Fields(line)
	if len(tokens) < 4 || tokens[0] != "[" {
		return nil, fmt.Errorf("%w: bad header %q", ErrMalformed, line)
	}
	resp := &Response{}
	rest := tokens[2:]
	if tokens[2] != "]" {
		// scoped reply: [ ADDR SCOPE ]
		if len(tokens) < 5 || tokens[3] != "]" {
			return nil, fmt.Errorf("%w: bad header %q", ErrMalformed, line)
		}
		resp.Scope = tokens[2]
		rest = tokens[3:]
	}
	resp.Command = rest[1]
	if tokens[1] != broadcastAddress {
		slot, err := strconv.ParseUint(tokens[1], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: bad address %q", ErrMalformed, tokens[1])
		}
		resp.Addressed = true
		resp.Slot = uint16(slot)
	}
	if len(rest) > 2 {
		resp.Payload = rest[2:]
	}
	return resp, nil
}

func verify(frame string) (string, error) {
	idx := strings.LastIndex(frame, checksumMark)
	if idx < 0 || len(frame)-idx-1 != 8 {
		return "", fmt.Errorf("%w: missing checksum", ErrMalformed)
	}
	content, sum := frame[:idx], frame[idx+1:]
	if !strings.EqualFold(sum, checksum(content)) {
		return "", ErrChecksum
	}
	return content, nil
}

func checksum(s string) string {
	return fmt.Sprintf("%08X", crc32.ChecksumIEEE([]byte(s)))
}
