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

// Package logging constructs the process-wide structured logger (§10). No
// global singleton is kept here — the constructed zerolog.Logger is passed
// down by reference by the daemon entry point, the same rule the broker
// applies to its *dbus.Conn handle.
package logging

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Level is the accepted set of configured log levels.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

func (l Level) zerologLevel() zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New builds the process-wide logger from the configured level, writing to
// output (stderr in production, so journald captures it under the unit).
func New(level Level, output io.Writer) zerolog.Logger {
	zerolog.SetGlobalLevel(level.zerologLevel())
	return zerolog.New(output).With().Timestamp().Logger()
}

// WithComponent returns a child logger tagging every line with the owning
// component, e.g. "discovery", "rclone", "broker".
func WithComponent(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

// LogBrokerCall writes the single info-level completion line every mutating
// broker call emits in addition to (not instead of) the audit-store write.
func LogBrokerCall(l zerolog.Logger, iface, method, target string, callerUID uint32, outcome string, duration time.Duration) {
	l.Info().
		Str("interface", iface).
		Str("method", method).
		Str("target", target).
		Uint32("caller_uid", callerUID).
		Str("outcome", outcome).
		Dur("duration", duration).
		Msg("broker call completed")
}
