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

// Package gptprobe reads the GPT header at LBA 1 of a block device and
// derives the usable byte range for partition creation (§4.2). A missing or
// unreadable header is not fatal: the caller gets the probed range or, for
// disks of at least 2 MiB, the fallback band (nil below that).
package gptprobe

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/cosmic-utils/storage-serviced/internal/model"
	"github.com/cosmic-utils/storage-serviced/internal/quantity"
)

const (
	sectorSize = 512
	signature  = "EFI PART"
)

// header mirrors the fixed on-disk GPT header layout (LBA 1), little-endian.
type header struct {
	Signature          [8]byte
	Revision           uint32
	HeaderSize         uint32
	HeaderCRC32        uint32
	Reserved           uint32
	CurrentLBA         uint64
	BackupLBA          uint64
	FirstUsableLBA     uint64
	LastUsableLBA      uint64
	DiskGUID           [16]byte
	PartitionTableLBA  uint64
	NumPartitions      uint32
	PartitionEntrySize uint32
	PartitionTableCRC  uint32
}

// Probe reads LBA 1 of path and, on success, returns the usable byte range
// [first*512, (last+1)*512). It never returns an error for the "no usable
// GPT header" case — that is communicated by a nil range, with the caller
// expected to apply FallbackRange. A non-nil error indicates the device
// could not be read at all (also non-fatal to discovery — see §9).
func Probe(path string, diskSize uint64) (*model.ByteRange, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, sectorSize)
	if _, err := f.ReadAt(buf, sectorSize); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, nil
		}
		return nil, err
	}

	var h header
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &h); err != nil {
		return nil, err
	}

	if string(h.Signature[:]) != signature {
		return nil, nil
	}

	start := h.FirstUsableLBA * sectorSize
	end := (h.LastUsableLBA + 1) * sectorSize
	if end <= start || end > diskSize {
		return nil, nil
	}

	return &model.ByteRange{Start: start, End: end}, nil
}

// FallbackRange returns the [1MiB, size-1MiB) band for disks at least 2MiB,
// else nil (no usable range can be assumed).
func FallbackRange(diskSize uint64) *model.ByteRange {
	oneMiB := uint64(quantity.SizeMiB)
	if diskSize < 2*oneMiB {
		return nil
	}
	return &model.ByteRange{Start: oneMiB, End: diskSize - oneMiB}
}

// UsableRange is the single entry point discovery calls: probe, and fall
// back on any non-answer. The probe error (if any) is returned alongside the
// range purely for logging; it is never fatal and the range is always
// populated when diskSize permits it.
func UsableRange(path string, diskSize uint64) (*model.ByteRange, error) {
	probed, err := Probe(path, diskSize)
	if probed != nil {
		return probed, nil
	}
	return FallbackRange(diskSize), err
}
