package at

import (
	"bufio"
	"bytes"
	"strings"
)

// Splitter is used for tokenizing AT command modem responses. It uses
// the signature of bufio.SplitFunc so it can be directly used with bufio.Scanner
// or called repeatedly over a growing buffer.
//
// Lines end with LF, optionally preceded by one or more CR bytes. This covers
// the usual "\r\n" framing as well as the "AT\r\r\n" shape produced when the
// modem echoes a command back. The input prompt ("> ") is returned as
// its own token.
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// 1. Match the input prompt
	if bytes.HasPrefix(data, []byte(Prompt)) {
		return len(Prompt), data[0:len(Prompt)], nil
	}

	// 2. Match line ending with LF, dropping the CRs in front of it
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, bytes.TrimRight(data[0:i], CR), nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Classify identifies the nature of the modem output
func Classify(line string) ResponseType {
	if line == Prompt {
		return TypePrompt
	}

	// Direct matches for final results
	switch line {
	case OK, ERROR, NoCarrier, NoDialtone, Busy, NoAnswer:
		return TypeFinal
	}

	// Prefix matches
	switch {
	case strings.HasPrefix(line, CmeError), strings.HasPrefix(line, CmsError):
		return TypeFinal
	case line == UrcReady, line == UrcStartup, line == UrcCall:
		return TypeURC
	}
	for _, prefix := range urcPrefixes {
		if strings.HasPrefix(line, prefix) {
			return TypeURC
		}
	}
	return TypeData
}

// IsError reports whether a final result line signals failure.
func IsError(line string) bool {
	return Classify(line) == TypeFinal && line != OK
}

// IsEcho reports whether line is the modem repeating cmd back.
func IsEcho(line, cmd string) bool {
	return strings.EqualFold(strings.TrimSpace(line), strings.TrimSpace(cmd))
}
