// Copyright 2026 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mterrors provides errors that carry a canonical code alongside
// their message. Codes use the gRPC code space so that callers can reason
// about an error's category (unavailable, failed precondition, deadline
// exceeded, ...) without string matching.
package mterrors

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
)

// codedError is an error with a code and an optional wrapped cause.
type codedError struct {
	code  codes.Code
	msg   string
	cause error
	// formatted is set when msg already contains the cause's text.
	formatted bool
}

func (e *codedError) Error() string {
	if e.cause == nil || e.formatted {
		return e.msg
	}
	return e.msg + ": " + e.cause.Error()
}

func (e *codedError) Unwrap() error {
	return e.cause
}

// New returns an error with the given code and message.
func New(code codes.Code, msg string) error {
	return &codedError{code: code, msg: msg}
}

// Errorf returns an error with the given code and a formatted message.
// Like fmt.Errorf, a %w verb keeps the wrapped error reachable through
// errors.Is and errors.As.
func Errorf(code codes.Code, format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	return &codedError{code: code, msg: err.Error(), cause: unwrapOnce(err), formatted: true}
}

// Wrap annotates err with msg. The resulting error keeps the code of err.
// Returns nil if err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &codedError{code: Code(err), msg: msg, cause: err}
}

// Wrapf annotates err with a formatted message. Returns nil if err is nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &codedError{code: Code(err), msg: fmt.Sprintf(format, args...), cause: err}
}

// WithCode returns err annotated with msg under a new code.
func WithCode(code codes.Code, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, msg: msg, cause: err}
}

// Code returns the code of the outermost coded error in the chain.
// Context errors map to DeadlineExceeded and Canceled, nil maps to OK,
// and anything else is Unknown.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}
	return codes.Unknown
}

// IsDeadline reports whether err was caused by an expired deadline, either
// directly through context.DeadlineExceeded or through an error coded as such.
func IsDeadline(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || Code(err) == codes.DeadlineExceeded
}

// unwrapOnce returns the error wrapped by a fmt.Errorf result, if any.
func unwrapOnce(err error) error {
	if u, ok := err.(interface{ Unwrap() error }); ok {
		return u.Unwrap()
	}
	if u, ok := err.(interface{ Unwrap() []error }); ok {
		if errs := u.Unwrap(); len(errs) > 0 {
			return errors.Join(errs...)
		}
	}
	return nil
}
