// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2024 The storage-serviced Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package model

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error kinds from §7. It is deliberately
// not coupled to any Go stdlib error type name.
type Kind string

const (
	KindNotConnected    Kind = "NotConnected"
	KindDeviceNotFound  Kind = "DeviceNotFound"
	KindInvalidArgument Kind = "InvalidArgument"
	KindDBusError       Kind = "DBusError"
	KindOperationFailed Kind = "OperationFailed"
	KindAccessDenied    Kind = "AccessDenied"
	KindConflict        Kind = "Conflict"
	KindCancelled       Kind = "Cancelled"
)

// Error is the single error type every controller and the broker return.
// It carries a Kind plus a message and wraps an optional underlying cause
// via the standard %w convention, so errors.Is/errors.As work uniformly.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func WrapError(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, defaulting to KindOperationFailed for opaque errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOperationFailed
}
