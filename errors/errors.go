// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package errors

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the balancer pipeline can report.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNotFound
	KindUnreachable
	KindTimeout
	KindInvalidArgument
)

// errno values rendered into cluster log records
const (
	EIO          = 5
	ENOENT       = 2
	EINVAL       = 22
	ETIMEDOUT    = 110
	EHOSTUNREACH = 113
)

var errnoText = map[int]string{
	EIO:          "Input/output error",
	ENOENT:       "No such file or directory",
	EINVAL:       "Invalid argument",
	ETIMEDOUT:    "Connection timed out",
	EHOSTUNREACH: "No route to host",
}

var kindNames = map[Kind]string{
	KindUnknown:         "Unknown",
	KindNotFound:        "NotFound",
	KindUnreachable:     "Unreachable",
	KindTimeout:         "Timeout",
	KindInvalidArgument: "InvalidArgument",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Errno returns the errno-like code reported for the kind.
func (k Kind) Errno() int {
	switch k {
	case KindNotFound:
		return ENOENT
	case KindUnreachable:
		return EHOSTUNREACH
	case KindTimeout:
		return ETIMEDOUT
	case KindInvalidArgument:
		return EINVAL
	default:
		return EIO
	}
}

// Error is a classified pipeline error. Op names the stage that failed and
// Msg carries the detail that goes to the span log, never to the cluster log.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so callers can test detailed
// errors against the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrUnreachable     = &Error{Kind: KindUnreachable}
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}

	ErrBalancerNotSet = errors.New("balancer is not set")
	ErrNoActiveRank   = errors.New("no active rank")
	ErrRankNotActive  = errors.New("rank is not active")
	ErrCycleInFlight  = errors.New("balancer cycle already in flight")
	ErrUnknownBackend = errors.New("unknown backend type")
)

func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Errno(err error) int {
	return KindOf(err).Errno()
}

// Describe renders err as "(errno) text", e.g. "(22) Invalid argument".
func Describe(err error) string {
	code := Errno(err)
	return fmt.Sprintf("(%d) %s", code, errnoText[code])
}

// ErrnoText returns the strerror-like text of code.
func ErrnoText(code int) string {
	if text, ok := errnoText[code]; ok {
		return text
	}
	return errnoText[EIO]
}
