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

// Remedy is the client-side remediation implied by an error.
type Remedy int

const (
	// NoRemedy means the error is not resolved by waiting or slowing down.
	NoRemedy Remedy = iota
	// WaitForDiscovery means no endpoint was known; wait for discovery to
	// publish one.
	WaitForDiscovery
	// RetryWithBackoff means the call was sent (or nearly so) but failed in
	// transit; retry later.
	RetryWithBackoff
	// ReduceRate means the call was shed locally; reduce the request rate.
	ReduceRate
)

func (r Remedy) String() string {
	switch r {
	case WaitForDiscovery:
		return "wait-for-discovery"
	case RetryWithBackoff:
		return "retry-with-backoff"
	case ReduceRate:
		return "reduce-rate"
	default:
		return "none"
	}
}

// GetRemedy returns the remediation for the error.
func GetRemedy(err error) Remedy {
	return GetRemedyFromCode(FromError(err).Code())
}

// GetRemedyFromCode returns the remediation for a code.
func GetRemedyFromCode(code Code) Remedy {
	switch code {
	case CodeNoEndpoint:
		return WaitForDiscovery
	case CodeConnectFailed, CodeTimeout, CodeChannelClosed:
		return RetryWithBackoff
	case CodeAdmissionRejected, CodePoolExhausted:
		return ReduceRate
	}
	return NoRemedy
}
