// Package goroutineid identifies the calling goroutine, for detecting calls
// that re-enter a component from code it is currently running.
package goroutineid

import (
	"bytes"
	"runtime"
	"strconv"
)

// header is the fixed prefix of runtime.Stack output.
var header = []byte("goroutine ")

// Get returns the current goroutine's ID, or 0 if it cannot be determined.
// It is not cheap; callers compare it against an ID recorded earlier rather
// than call it on hot paths.
func Get() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parse(buf[:n])
}

// parse reads the ID from a stack header such as "goroutine 18 [running]:".
func parse(stack []byte) int64 {
	rest, ok := bytes.CutPrefix(stack, header)
	if !ok {
		return 0
	}
	end := bytes.IndexByte(rest, ' ')
	if end < 0 {
		end = len(rest)
	}
	id, err := strconv.ParseInt(string(rest[:end]), 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}
