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

// Package decode holds the primitive decoders the discovery engine uses to
// turn raw provider property-bag values into Go strings (§4.1).
package decode

import (
	"bytes"

	"github.com/godbus/dbus/v5"
)

// NulString splits b on its first zero byte and interprets the prefix as
// lossy UTF-8. An empty result (no bytes before the first zero, or no zero
// and an empty slice) maps to "", ok=false.
func NulString(b []byte) (string, bool) {
	idx := bytes.IndexByte(b, 0)
	if idx == 0 {
		return "", false
	}
	if idx < 0 {
		idx = len(b)
	}
	if idx == 0 {
		return "", false
	}
	return string(b[:idx]), true
}

// VariantString pulls a string out of a provider property bag: a missing
// key returns "", false; a present key holding a []byte is decoded via
// NulString; a present key holding a non-empty string is returned verbatim.
// An empty value of either type also returns "", false, the same result as
// a missing key.
func VariantString(props map[string]dbus.Variant, key string) (string, bool) {
	v, present := props[key]
	if !present {
		return "", false
	}
	switch val := v.Value().(type) {
	case []byte:
		return NulString(val)
	case string:
		if val == "" {
			return "", false
		}
		return val, true
	default:
		return "", false
	}
}

// VariantUint64 pulls a uint64 out of a provider property bag, accepting
// uint64, uint32 and non-negative int64 values; any other type reports false.
func VariantUint64(props map[string]dbus.Variant, key string) (uint64, bool) {
	v, present := props[key]
	if !present {
		return 0, false
	}
	switch val := v.Value().(type) {
	case uint64:
		return val, true
	case uint32:
		return uint64(val), true
	case int64:
		if val < 0 {
			return 0, false
		}
		return uint64(val), true
	default:
		return 0, false
	}
}

// VariantBool pulls a bool out of a provider property bag.
func VariantBool(props map[string]dbus.Variant, key string) bool {
	v, present := props[key]
	if !present {
		return false
	}
	b, _ := v.Value().(bool)
	return b
}

// LoopBackingFile decodes the "BackingFile" property a loop device's block
// object reports, which arrives as a NUL-terminated []byte like every other
// provider path string.
func LoopBackingFile(props map[string]dbus.Variant) (string, bool) {
	return VariantString(props, "BackingFile")
}
