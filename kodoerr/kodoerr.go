// Package kodoerr is the error surface of the client. Every error returned by the public
// packages can be inspected as exactly one Kind.
package kodoerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/url"
	"syscall"
)

// Kind ...
type Kind int

const (
	KindUnknown Kind = iota
	KindOS
	KindIO
	KindJSON
	KindBadMIME
	KindResponseStatus
)

func (k Kind) String() string {
	switch k {
	case KindOS:
		return "os"
	case KindIO:
		return "io"
	case KindJSON:
		return "json"
	case KindBadMIME:
		return "bad_mime"
	case KindResponseStatus:
		return "response_status"
	default:
		return "unknown"
	}
}

// Error is a tagged error. Only the fields of its Kind are populated.
type Error struct {
	kind    Kind
	errno   syscall.Errno
	code    int
	message string
	mime    string
	err     error
}

func (e *Error) Error() string {
	switch e.kind {
	case KindOS:
		if e.err != nil {
			return e.err.Error()
		}
		return e.errno.Error()
	case KindBadMIME:
		return fmt.Sprintf("bad mime type %q: %s", e.mime, e.err)
	case KindResponseStatus:
		return fmt.Sprintf("response status %d: %s", e.code, e.message)
	default:
		if e.err == nil {
			return e.kind.String() + " error"
		}
		return e.err.Error()
	}
}

func (e *Error) Unwrap() error {
	return e.err
}

// Kind returns the tag of the error.
func (e *Error) Kind() Kind {
	return e.kind
}

// NewOSError tags an operating system error. The errno is taken from err when present.
func NewOSError(err error) *Error {
	var errno syscall.Errno
	_ = errors.As(err, &errno)
	return &Error{kind: KindOS, errno: errno, err: err}
}

// NewIOError ...
func NewIOError(err error) *Error {
	return &Error{kind: KindIO, err: err}
}

// NewJSONError ...
func NewJSONError(err error) *Error {
	return &Error{kind: KindJSON, err: err}
}

// NewBadMIMEError ...
func NewBadMIMEError(mime string, err error) *Error {
	if err == nil {
		err = errors.New("malformed media type")
	}
	return &Error{kind: KindBadMIME, mime: mime, err: err}
}

// NewResponseStatusError ...
func NewResponseStatusError(code int, message string) *Error {
	return &Error{kind: KindResponseStatus, code: code, message: message}
}

// NewUnknownError ...
func NewUnknownError(err error) *Error {
	return &Error{kind: KindUnknown, err: err}
}

// Classify returns err as a tagged error. Errors already carrying a tag keep it.
// Network failures (connection refused, timeouts, failed requests) and unexpected EOFs
// become KindIO, path and errno errors KindOS, JSON decoding failures KindJSON and
// everything else KindUnknown.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged
	}

	// checked before errno: a refused connection wraps ECONNREFUSED
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return NewIOError(err)
	}

	var pathErr *fs.PathError
	var errno syscall.Errno
	if errors.As(err, &pathErr) || errors.As(err, &errno) {
		return NewOSError(err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return NewJSONError(err)
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrShortWrite) || errors.Is(err, io.ErrClosedPipe) {
		return NewIOError(err)
	}

	return NewUnknownError(err)
}

func find(err error, kind Kind) (*Error, bool) {
	var tagged *Error
	if !errors.As(err, &tagged) || tagged.kind != kind {
		return nil, false
	}
	return tagged, true
}

// AsOS extracts the errno and its platform message.
func AsOS(err error) (syscall.Errno, string, bool) {
	e, ok := find(err, KindOS)
	if !ok {
		return 0, "", false
	}
	if e.errno == 0 && e.err != nil {
		return 0, e.err.Error(), true
	}
	return e.errno, e.errno.Error(), true
}

// AsIO ...
func AsIO(err error) (error, bool) {
	e, ok := find(err, KindIO)
	if !ok {
		return nil, false
	}
	return e.err, true
}

// AsJSON ...
func AsJSON(err error) (error, bool) {
	e, ok := find(err, KindJSON)
	if !ok {
		return nil, false
	}
	return e.err, true
}

// AsBadMIME returns the rejected MIME string.
func AsBadMIME(err error) (string, bool) {
	e, ok := find(err, KindBadMIME)
	if !ok {
		return "", false
	}
	return e.mime, true
}

// AsResponseStatus returns the HTTP status code and the server message.
func AsResponseStatus(err error) (int, string, bool) {
	e, ok := find(err, KindResponseStatus)
	if !ok {
		return 0, "", false
	}
	return e.code, e.message, true
}

// AsUnknown ...
func AsUnknown(err error) (error, bool) {
	e, ok := find(err, KindUnknown)
	if !ok {
		return nil, false
	}
	return e.err, true
}
