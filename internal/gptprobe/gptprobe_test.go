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

package gptprobe_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/cosmic-utils/storage-serviced/internal/gptprobe"
)

func Test(t *testing.T) { TestingT(t) }

type gptSuite struct{}

var _ = Suite(&gptSuite{})

type fakeHeader struct {
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

func writeFakeDisk(c *C, diskSize uint64, withHeader bool, firstUsable, lastUsable uint64) string {
	path := filepath.Join(c.MkDir(), "disk.img")
	// The on-disk stub file only needs to be big enough to hold LBA 0+1;
	// diskSize is the notional full-disk size Probe clamps the usable range
	// against, independent of how large the test fixture file actually is.
	buf := make([]byte, 4096)

	if withHeader {
		h := fakeHeader{
			Revision:       0x00010000,
			HeaderSize:     92,
			CurrentLBA:     1,
			FirstUsableLBA: firstUsable,
			LastUsableLBA:  lastUsable,
		}
		copy(h.Signature[:], "EFI PART")

		var out bytes.Buffer
		c.Assert(binary.Write(&out, binary.LittleEndian, &h), IsNil)
		copy(buf[512:], out.Bytes())
	}

	c.Assert(os.WriteFile(path, buf, 0o600), IsNil)
	return path
}

func (s *gptSuite) TestProbeValidHeader(c *C) {
	diskSize := uint64(10 * 1024 * 1024 * 1024) // 10 GiB
	path := writeFakeDisk(c, diskSize, true, 2048, (diskSize/512)-2048-1)

	r, err := gptprobe.Probe(path, diskSize)
	c.Assert(err, IsNil)
	c.Assert(r, NotNil)
	c.Check(r.Start, Equals, uint64(2048*512))
}

func (s *gptSuite) TestProbeMissingSignatureReturnsNilNil(c *C) {
	diskSize := uint64(1024 * 1024 * 1024)
	path := writeFakeDisk(c, diskSize, false, 0, 0)

	r, err := gptprobe.Probe(path, diskSize)
	c.Check(err, IsNil)
	c.Check(r, IsNil)
}

func (s *gptSuite) TestFallbackRangeBelowTwoMiBIsNil(c *C) {
	c.Check(gptprobe.FallbackRange(1024*1024), IsNil)
}

func (s *gptSuite) TestFallbackRangeTypical(c *C) {
	diskSize := uint64(10 * 1024 * 1024 * 1024)
	r := gptprobe.FallbackRange(diskSize)
	c.Assert(r, NotNil)
	c.Check(r.Start, Equals, uint64(1024*1024))
	c.Check(r.End, Equals, diskSize-1024*1024)
}

func (s *gptSuite) TestUsableRangeFallsBackOnBadSignature(c *C) {
	diskSize := uint64(1024 * 1024 * 1024)
	path := writeFakeDisk(c, diskSize, false, 0, 0)

	r, err := gptprobe.UsableRange(path, diskSize)
	c.Check(err, IsNil)
	c.Assert(r, NotNil)
	c.Check(r.Start, Equals, uint64(1024*1024))
}

func (s *gptSuite) TestUsableRangeUnreadableDeviceFallsBack(c *C) {
	diskSize := uint64(1024 * 1024 * 1024)
	r, err := gptprobe.UsableRange(filepath.Join(c.MkDir(), "nope"), diskSize)
	c.Check(err, NotNil)
	c.Assert(r, NotNil)
}
