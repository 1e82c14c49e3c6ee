// Package resp implements incremental decoding of RESP replies from a raw
// byte stream, plus the command encoding needed to issue a subscription.
//
// The broker delivers published messages as RESP array replies over a
// connection in subscribe mode. Reads off that connection return arbitrary
// byte chunks, so a Reader buffers fed bytes across calls and extracts one
// complete reply at a time, resuming partial frames on the next feed.
package resp

import (
	"errors"
	"fmt"
	"strconv"
)

// Type identifies the RESP reply kind.
type Type byte

const (
	SimpleString Type = '+'
	Error        Type = '-'
	Integer      Type = ':'
	BulkString   Type = '$'
	Array        Type = '*'
)

// Reply is one complete decoded RESP reply.
type Reply struct {
	Type Type
	// Str holds the value for SimpleString, Error and BulkString replies.
	Str string
	// Int holds the value for Integer replies.
	Int int64
	// Elems holds the elements of an Array reply.
	Elems []*Reply
	// IsNil marks null bulk strings and null arrays.
	IsNil bool
}

// ProtocolError reports bytes that cannot be a valid RESP reply. It is
// unrecoverable for the connection that produced them.
type ProtocolError struct {
	msg string
}

func (e *ProtocolError) Error() string {
	return "resp: " + e.msg
}

// errIncomplete signals that the buffer does not yet hold a full reply.
// It never escapes Next.
var errIncomplete = errors.New("resp: incomplete reply")

// Reader incrementally reassembles RESP replies from fed byte chunks.
// It is not safe for concurrent use; the run loop is its sole owner.
type Reader struct {
	buf []byte
}

// NewReader creates an empty Reader.
func NewReader() *Reader {
	return &Reader{}
}

// Feed appends a chunk read off the connection to the internal buffer.
func (r *Reader) Feed(p []byte) {
	r.buf = append(r.buf, p...)
}

// Buffered reports the number of bytes held for a future frame.
func (r *Reader) Buffered() int {
	return len(r.buf)
}

// Next attempts to extract exactly one complete reply from the buffered
// bytes. It returns (reply, nil) and consumes the reply's bytes on success,
// (nil, nil) when the buffer holds only a partial frame, and (nil, error)
// when the buffered bytes cannot be valid RESP. After an error the Reader
// must be discarded along with its connection.
func (r *Reader) Next() (*Reply, error) {
	reply, n, err := parseReply(r.buf)
	if err != nil {
		if errors.Is(err, errIncomplete) {
			return nil, nil
		}
		return nil, err
	}
	r.buf = r.buf[n:]
	return reply, nil
}

// parseReply decodes one reply from the front of b, returning the reply and
// the number of bytes it occupied.
func parseReply(b []byte) (*Reply, int, error) {
	if len(b) == 0 {
		return nil, 0, errIncomplete
	}
	switch b[0] {
	case '+', '-':
		line, n, err := readLine(b)
		if err != nil {
			return nil, 0, err
		}
		return &Reply{Type: Type(b[0]), Str: string(line)}, n, nil
	case ':':
		line, n, err := readLine(b)
		if err != nil {
			return nil, 0, err
		}
		v, err := strconv.ParseInt(string(line), 10, 64)
		if err != nil {
			return nil, 0, &ProtocolError{msg: fmt.Sprintf("malformed integer reply %q", line)}
		}
		return &Reply{Type: Integer, Int: v}, n, nil
	case '$':
		return parseBulkString(b)
	case '*':
		return parseArray(b)
	default:
		return nil, 0, &ProtocolError{msg: fmt.Sprintf("unexpected reply byte %q", b[0])}
	}
}

func parseBulkString(b []byte) (*Reply, int, error) {
	size, n, err := readLength(b)
	if err != nil {
		return nil, 0, err
	}
	if size == -1 {
		return &Reply{Type: BulkString, IsNil: true}, n, nil
	}
	if size < 0 {
		return nil, 0, &ProtocolError{msg: fmt.Sprintf("invalid bulk string length %d", size)}
	}
	end := n + int(size) + 2
	if len(b) < end {
		return nil, 0, errIncomplete
	}
	if b[end-2] != '\r' || b[end-1] != '\n' {
		return nil, 0, &ProtocolError{msg: "bulk string missing terminator"}
	}
	return &Reply{Type: BulkString, Str: string(b[n : end-2])}, end, nil
}

func parseArray(b []byte) (*Reply, int, error) {
	size, n, err := readLength(b)
	if err != nil {
		return nil, 0, err
	}
	if size == -1 {
		return &Reply{Type: Array, IsNil: true}, n, nil
	}
	if size < 0 {
		return nil, 0, &ProtocolError{msg: fmt.Sprintf("invalid array length %d", size)}
	}
	reply := &Reply{Type: Array, Elems: make([]*Reply, 0, size)}
	consumed := n
	for i := int64(0); i < size; i++ {
		elem, en, err := parseReply(b[consumed:])
		if err != nil {
			return nil, 0, err
		}
		reply.Elems = append(reply.Elems, elem)
		consumed += en
	}
	return reply, consumed, nil
}

// readLength parses the integer following a type byte, e.g. "*3\r\n".
func readLength(b []byte) (int64, int, error) {
	line, n, err := readLine(b)
	if err != nil {
		return 0, 0, err
	}
	v, err := strconv.ParseInt(string(line), 10, 64)
	if err != nil {
		return 0, 0, &ProtocolError{msg: fmt.Sprintf("malformed length %q", line)}
	}
	return v, n, nil
}

// readLine returns the content between the type byte and the next CRLF, and
// the total bytes consumed including the type byte and terminator.
func readLine(b []byte) ([]byte, int, error) {
	for i := 1; i < len(b); i++ {
		if b[i] != '\n' {
			continue
		}
		if b[i-1] != '\r' || i < 2 {
			return nil, 0, &ProtocolError{msg: "line missing CR before LF"}
		}
		return b[1 : i-1], i + 1, nil
	}
	return nil, 0, errIncomplete
}
