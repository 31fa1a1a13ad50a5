// Package codec decodes the Julius module-server wire format.
//
// The server writes newline-terminated lines grouped into blocks; a block ends
// with a line holding a single ".". Each block body is a small XML fragment
// (RECOGOUT, INPUT, SYSINFO, ...). Reader turns a byte stream into lines,
// blocks and parsed Documents.
package codec

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

const (
	// DefaultEncoding is the text encoding used when none is configured.
	DefaultEncoding = "utf-8"
	// Terminator is the line that closes a block.
	Terminator = "."
)

var (
	// ErrCancelled reports that the caller's context ended before a line was complete.
	ErrCancelled = errors.New("julius codec: read cancelled")
	// ErrSourceClosed reports that the byte source failed or reached EOF.
	ErrSourceClosed = errors.New("julius codec: source closed")
	// ErrMalformedBlock reports a block that is not a well-formed XML fragment.
	ErrMalformedBlock = errors.New("julius codec: malformed block")
	// ErrInvalidText reports line bytes that are not valid in the configured encoding.
	ErrInvalidText = errors.New("julius codec: invalid text for encoding")
)

// LookupEncoding resolves a WHATWG encoding label such as "utf-8", "euc-jp" or
// "shift_jis".
func LookupEncoding(name string) (encoding.Encoding, error) {
	label := strings.ToLower(strings.TrimSpace(name))
	if label == "" {
		label = DefaultEncoding
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("julius codec: unknown encoding %q: %w", name, err)
	}
	return enc, nil
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
