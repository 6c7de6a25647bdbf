// Copyright (c) 2026 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package rpcerrors

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/uber-go/mapdecode"
)

const (
	// CodeOK means no error; returned on success.
	CodeOK Code = 0

	// CodeCancelled means the caller cancelled the call before it resolved.
	CodeCancelled Code = 1

	// CodeUnknown means an error without enough information to classify it.
	CodeUnknown Code = 2

	// CodeInvalidArgument means the caller supplied an invalid argument or
	// configuration.
	CodeInvalidArgument Code = 3

	// CodeFailedPrecondition means the component was not in a state that
	// allows the operation, for example a client that was never started.
	CodeFailedPrecondition Code = 4

	// CodeInternal means an invariant of the runtime was broken.
	CodeInternal Code = 5

	// CodeUnimplemented means the server has no handler for the method.
	CodeUnimplemented Code = 6

	// CodeRemote means the remote handler returned an application error.
	CodeRemote Code = 7

	// CodeConnectFailed means a physical connection could not be established
	// within the connect timeout. It is transient and retryable against a
	// different endpoint.
	CodeConnectFailed Code = 8

	// CodeTimeout means the call was sent but no response arrived before its
	// deadline. It is retryable and counts against the endpoint's health.
	CodeTimeout Code = 9

	// CodePoolExhausted means the local connection pool for an endpoint is at
	// capacity. Callers should back off; it is never retried automatically.
	CodePoolExhausted Code = 10

	// CodeAdmissionRejected means the local admission controller shed the
	// call before dispatch. It is never retried automatically and does not
	// count as a remote failure.
	CodeAdmissionRejected Code = 11

	// CodeChannelClosed means the endpoint's channel or connection was torn
	// down while the call was outstanding.
	CodeChannelClosed Code = 12

	// CodeProtocolDecode means the codec could not decode a frame. It
	// indicates corruption or a version mismatch and is not retryable.
	CodeProtocolDecode Code = 13

	// CodeNoEndpoint means no endpoint was available to carry the call.
	CodeNoEndpoint Code = 14
)

var (
	_codeToString = map[Code]string{
		CodeOK:                 "ok",
		CodeCancelled:          "cancelled",
		CodeUnknown:            "unknown",
		CodeInvalidArgument:    "invalid-argument",
		CodeFailedPrecondition: "failed-precondition",
		CodeInternal:           "internal",
		CodeUnimplemented:      "unimplemented",
		CodeRemote:             "remote",
		CodeConnectFailed:      "connect-failed",
		CodeTimeout:            "timeout",
		CodePoolExhausted:      "pool-exhausted",
		CodeAdmissionRejected:  "admission-rejected",
		CodeChannelClosed:      "channel-closed",
		CodeProtocolDecode:     "protocol-decode",
		CodeNoEndpoint:         "no-endpoint",
	}
	_stringToCode = func() map[string]Code {
		m := make(map[string]Code, len(_codeToString))
		for c, s := range _codeToString {
			m[s] = c
		}
		return m
	}()
)

// Code classifies the failure of a call.
type Code int

// String returns the string representation of the Code.
func (c Code) String() string {
	s, ok := _codeToString[c]
	if ok {
		return s
	}
	return strconv.Itoa(int(c))
}

// MarshalText implements encoding.TextMarshaler.
func (c Code) MarshalText() ([]byte, error) {
	s, ok := _codeToString[c]
	if ok {
		return []byte(s), nil
	}
	return nil, fmt.Errorf("unknown code: %d", int(c))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Code) UnmarshalText(text []byte) error {
	i, ok := _stringToCode[strings.ToLower(string(text))]
	if !ok {
		return fmt.Errorf("unknown code string: %s", string(text))
	}
	*c = i
	return nil
}

// Decode implements mapdecode.Decoder so codes can appear in configuration.
func (c *Code) Decode(into mapdecode.Into) error {
	var s string
	if err := into(&s); err != nil {
		return fmt.Errorf("could not decode error code: %v", err)
	}
	return c.UnmarshalText([]byte(s))
}

// IsRetryable reports whether a call that failed with the code may be
// attempted again against another endpoint.
func IsRetryable(code Code) bool {
	switch code {
	case CodeConnectFailed, CodeTimeout, CodeChannelClosed:
		return true
	default:
		return false
	}
}

// IsConnectionLevel reports whether the code means the physical connection
// that carried the call can no longer be trusted.
func IsConnectionLevel(code Code) bool {
	switch code {
	case CodeConnectFailed, CodeChannelClosed, CodeProtocolDecode:
		return true
	default:
		return false
	}
}
