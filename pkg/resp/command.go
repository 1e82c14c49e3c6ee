package resp

import "strconv"

// AppendCommand appends the RESP encoding of a command and its arguments to
// dst and returns the extended buffer. Commands are encoded as arrays of
// bulk strings, which is the only form the broker accepts from clients.
func AppendCommand(dst []byte, args ...string) []byte {
	dst = append(dst, '*')
	dst = strconv.AppendInt(dst, int64(len(args)), 10)
	dst = append(dst, '\r', '\n')
	for _, arg := range args {
		dst = append(dst, '$')
		dst = strconv.AppendInt(dst, int64(len(arg)), 10)
		dst = append(dst, '\r', '\n')
		dst = append(dst, arg...)
		dst = append(dst, '\r', '\n')
	}
	return dst
}
