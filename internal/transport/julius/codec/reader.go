package codec

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// DefaultPollInterval bounds every blocking read so cancellation is observed.
const DefaultPollInterval = 500 * time.Millisecond

// Source is the byte stream consumed by a Reader. net.Conn satisfies it.
type Source interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// Reader decodes lines, blocks and documents from a Source. It is not safe for
// concurrent use; exactly one goroutine owns the read side of a connection.
type Reader struct {
	src    Source
	buf    *bufio.Reader
	enc    encoding.Encoding
	dec    *encoding.Decoder
	isUTF8 bool
	poll   time.Duration
	line   []byte

	// OnLine, when set, observes every decoded line including terminators.
	OnLine func(line string)
	// OnBlock, when set, observes every complete raw block before parsing.
	OnBlock func(block string)
}

// NewReader wraps src. A nil enc means UTF-8; poll <= 0 means DefaultPollInterval.
func NewReader(src Source, enc encoding.Encoding, poll time.Duration) *Reader {
	if enc == nil {
		enc, _ = LookupEncoding(DefaultEncoding)
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	name, _ := htmlindex.Name(enc)
	return &Reader{
		src:    src,
		buf:    bufio.NewReader(src),
		enc:    enc,
		dec:    enc.NewDecoder(),
		isUTF8: name == DefaultEncoding,
		poll:   poll,
	}
}

// ReadLine returns the next line with its "\n" stripped. Every wait on the
// source is bounded by the poll interval; ctx is checked between waits. A line
// interrupted by cancellation is abandoned. Bytes that are not valid in the
// configured encoding fail the line with ErrInvalidText instead of being
// replaced by U+FFFD.
func (r *Reader) ReadLine(ctx context.Context) (string, error) {
	r.line = r.line[:0]
	for {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		if r.buf.Buffered() == 0 {
			if err := r.src.SetReadDeadline(time.Now().Add(r.poll)); err != nil {
				return "", fmt.Errorf("%w: %w", ErrSourceClosed, err)
			}
		}
		b, err := r.buf.ReadByte()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return "", fmt.Errorf("%w: %w", ErrSourceClosed, err)
		}
		if b != '\n' {
			r.line = append(r.line, b)
			continue
		}
		decoded, err := r.decode(r.line)
		if err != nil {
			return "", err
		}
		line := string(decoded)
		if r.OnLine != nil {
			r.OnLine(line)
		}
		return line, nil
	}
}

// decode converts raw to UTF-8. x/text decoders substitute U+FFFD for invalid
// input, so a replacement rune is only accepted when raw itself encodes one.
func (r *Reader) decode(raw []byte) ([]byte, error) {
	if r.isUTF8 {
		if !utf8.Valid(raw) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidText, raw)
		}
		return append([]byte(nil), raw...), nil
	}
	decoded, err := r.dec.Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidText, err)
	}
	if bytes.ContainsRune(decoded, utf8.RuneError) {
		encoded, err := r.enc.NewEncoder().Bytes(decoded)
		if err != nil || !bytes.Equal(encoded, raw) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidText, raw)
		}
	}
	return decoded, nil
}

// ReadBlock reads lines until the "." terminator and returns the concatenation
// of the lines before it. Partial blocks are discarded on error.
func (r *Reader) ReadBlock(ctx context.Context) (string, error) {
	var block strings.Builder
	for {
		line, err := r.ReadLine(ctx)
		if err != nil {
			return "", err
		}
		if line == Terminator {
			raw := block.String()
			if r.OnBlock != nil {
				r.OnBlock(raw)
			}
			return raw, nil
		}
		block.WriteString(line)
	}
}

// ReadDocument reads one block and parses it. A block that does not parse
// yields an error wrapping ErrMalformedBlock and no document.
func (r *Reader) ReadDocument(ctx context.Context) (*Document, error) {
	block, err := r.ReadBlock(ctx)
	if err != nil {
		return nil, err
	}
	return Parse(block)
}

// Discard drops everything buffered or readable within window and returns the
// number of bytes dropped. The read deadline is cleared afterwards.
func (r *Reader) Discard(window time.Duration) (int, error) {
	if window <= 0 {
		window = 10 * time.Millisecond
	}
	total, _ := r.buf.Discard(r.buf.Buffered())
	r.line = r.line[:0]

	scratch := make([]byte, 4096)
	for {
		if err := r.src.SetReadDeadline(time.Now().Add(window)); err != nil {
			return total, fmt.Errorf("%w: %w", ErrSourceClosed, err)
		}
		n, err := r.src.Read(scratch)
		total += n
		if err != nil {
			if isTimeout(err) {
				break
			}
			return total, fmt.Errorf("%w: %w", ErrSourceClosed, err)
		}
	}
	if err := r.src.SetReadDeadline(time.Time{}); err != nil {
		return total, fmt.Errorf("%w: %w", ErrSourceClosed, err)
	}
	return total, nil
}
