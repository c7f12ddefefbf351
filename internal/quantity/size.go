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

// Package quantity provides the byte-size type shared by the daemon's own
// config file and by JSON payloads that render human-readable sizes.
package quantity

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is a count of bytes.
type Size uint64

const (
	SizeKiB = Size(1 << 10)
	SizeMiB = Size(1 << 20)
	SizeGiB = Size(1 << 30)
	SizeTiB = Size(1 << 40)
	SizePiB = Size(1 << 50)
)

// String renders the raw decimal byte count, or "unspecified" for a nil
// pointer receiver.
func (s *Size) String() string {
	if s == nil {
		return "unspecified"
	}
	return strconv.FormatUint(uint64(*s), 10)
}

// IECString renders a human-scaled size using IEC binary prefixes, matching
// the precision rules: whole-number units print without decimals, otherwise
// two decimal digits.
func (s Size) IECString() string {
	units := []struct {
		sz     Size
		suffix string
	}{
		{SizePiB, "PiB"},
		{SizeTiB, "TiB"},
		{SizeGiB, "GiB"},
		{SizeMiB, "MiB"},
		{SizeKiB, "KiB"},
	}
	for _, u := range units {
		if s >= u.sz {
			v := float64(s) / float64(u.sz)
			if v == float64(int64(v)) {
				return fmt.Sprintf("%d %s", int64(v), u.suffix)
			}
			return fmt.Sprintf("%.2f %s", v, u.suffix)
		}
	}
	return fmt.Sprintf("%d B", uint64(s))
}

// UnmarshalYAML accepts a bare decimal byte count or a "<number><suffix>"
// form with suffix one of K, M, G, T (binary multiples — M means MiB,
// matching the on-disk config convention), and rejects negative values and
// unknown suffixes with a descriptive error.
func (s *Size) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		var n int64
		if err2 := unmarshal(&n); err2 != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("cannot parse size %q: size cannot be negative", n)
		}
		*s = Size(n)
		return nil
	}

	parsed, err := ParseSize(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSize parses a bare decimal byte count or "<number><suffix>" where
// suffix is one of K, M, G, T.
func ParseSize(raw string) (Size, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("cannot parse size %q: empty value", raw)
	}
	if trimmed[0] == '-' {
		return 0, fmt.Errorf("cannot parse size %q: size cannot be negative", raw)
	}

	i := 0
	for i < len(trimmed) && (trimmed[i] >= '0' && trimmed[i] <= '9') {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("cannot parse size %q: no numerical prefix", raw)
	}
	numPart := trimmed[:i]
	suffix := trimmed[i:]

	n, err := strconv.ParseUint(numPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse size %q: %v", raw, err)
	}

	var mult Size
	switch suffix {
	case "":
		mult = 1
	case "K":
		mult = SizeKiB
	case "M":
		mult = SizeMiB
	case "G":
		mult = SizeGiB
	case "T":
		mult = SizeTiB
	default:
		return 0, fmt.Errorf("cannot parse size %q: invalid suffix %q", raw, suffix)
	}

	return Size(n) * mult, nil
}
