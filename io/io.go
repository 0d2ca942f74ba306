package io

import (
	"bufio"
	"errors"
)

var (
	ErrLineTooLong   = errors.New("smtp: line too long")
	ErrBadLineEnding = errors.New("smtp: line not terminated by CRLF")
)

// CRLF is the protocol line terminator.
const CRLF = "\r\n"

// ReadLine reads a single protocol line with strict CRLF and length enforcement.
// The returned slice is a copy owned by the caller and still carries its CRLF.
// max counts the terminator.
func ReadLine(reader *bufio.Reader, max int) ([]byte, error) {
	// FAST PATH: the whole line fits in the bufio buffer.
	line, err := reader.ReadSlice('\n')
	if err == nil {
		if err := validate(line, max); err != nil {
			return nil, err
		}
		return append([]byte(nil), line...), nil
	}

	if err != bufio.ErrBufferFull {
		return nil, err
	}

	// SLOW PATH: accumulate chunks. ReadSlice overwrites its buffer, so copy.
	buf := append([]byte(nil), line...)
	for {
		line, err = reader.ReadSlice('\n')

		if len(buf)+len(line) > max {
			// Drain the rest of the line so the next read starts fresh
			if err == bufio.ErrBufferFull {
				drainLine(reader)
			}
			return nil, ErrLineTooLong
		}

		buf = append(buf, line...)

		if err == nil {
			break
		}
		if err != bufio.ErrBufferFull {
			return nil, err
		}
	}

	if err := validate(buf, max); err != nil {
		return nil, err
	}
	return buf, nil
}

// TrimCRLF strips the trailing terminator from a line read by ReadLine.
func TrimCRLF(line []byte) []byte {
	if n := len(line); n >= 2 && line[n-2] == '\r' && line[n-1] == '\n' {
		return line[:n-2]
	}
	return line
}

// validate checks length and the CRLF terminator.
func validate(b []byte, max int) error {
	if len(b) > max {
		// The whole line is already consumed from the wire.
		return ErrLineTooLong
	}

	// We know b ends in '\n' because ReadSlice returned nil error.
	if len(b) < 2 || b[len(b)-2] != '\r' {
		return ErrBadLineEnding
	}
	return nil
}

// drainLine discards the rest of the current line to recover protocol synchronization.
func drainLine(reader *bufio.Reader) {
	for {
		_, err := reader.ReadSlice('\n')
		if err == nil {
			return
		}
		if err != bufio.ErrBufferFull {
			return
		}
	}
}
