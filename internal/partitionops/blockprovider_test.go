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

package partitionops_test

import (
	"context"

	. "gopkg.in/check.v1"

	"github.com/cosmic-utils/storage-serviced/internal/dirs"
	"github.com/cosmic-utils/storage-serviced/internal/model"
	"github.com/cosmic-utils/storage-serviced/internal/partitionops"
)

// recordingRunner keeps every invocation, unlike fakeRunner above which only
// remembers the last one; CreatePartitionAndFormat and FormatBlock can shell
// out more than once per call.
type recordingRunner struct {
	calls []recordedCall
	err   error
}

type recordedCall struct {
	name string
	args []string
}

func (r *recordingRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	r.calls = append(r.calls, recordedCall{name, args})
	return "", "", r.err
}

func (s *partitionopsSuite) TestToolBlockProviderCreatePartitionAndFormatRunsSfdiskThenMkfs(c *C) {
	r := &recordingRunner{}
	p := partitionops.NewToolBlockProvider(r)

	path, err := p.CreatePartitionAndFormat(context.Background(), "/dev/sdb", 1048576, 1000*512,
		map[string]string{"partition-type": "83", "partition-name": "data"}, "ext4", partitionops.FormatOptions{"label": "MYDATA"})
	c.Assert(err, IsNil)
	c.Check(path, Equals, "/dev/sdb1")

	c.Assert(len(r.calls) >= 2, Equals, true)
	c.Check(r.calls[0].name, Equals, "sfdisk")
	c.Check(r.calls[len(r.calls)-1].name, Equals, "mkfs.ext4")
}

func (s *partitionopsSuite) TestToolBlockProviderCreatePartitionAndFormatNvmeUsesPInfix(c *C) {
	r := &recordingRunner{}
	p := partitionops.NewToolBlockProvider(r)

	path, err := p.CreatePartitionAndFormat(context.Background(), "/dev/nvme0n1", 1048576, 0,
		map[string]string{"partition-type": "83"}, "", nil)
	c.Assert(err, IsNil)
	c.Check(path, Equals, "/dev/nvme0n1p1")
}

func (s *partitionopsSuite) TestToolBlockProviderCreatePartitionAndFormatSkipsFormatWhenFsTypeEmpty(c *C) {
	r := &recordingRunner{}
	p := partitionops.NewToolBlockProvider(r)

	_, err := p.CreatePartitionAndFormat(context.Background(), "/dev/sdb", 1048576, 0, map[string]string{"partition-type": "83"}, "", nil)
	c.Assert(err, IsNil)
	c.Assert(r.calls, HasLen, 1)
	c.Check(r.calls[0].name, Equals, "sfdisk")
}

func (s *partitionopsSuite) TestToolBlockProviderDeletePartitionSplitsSdaStyle(c *C) {
	r := &recordingRunner{}
	p := partitionops.NewToolBlockProvider(r)

	err := p.DeletePartition(context.Background(), "/dev/sdb1")
	c.Assert(err, IsNil)
	c.Assert(r.calls, HasLen, 1)
	c.Check(r.calls[0].args, DeepEquals, []string{"--delete", "/dev/sdb", "1"})
}

func (s *partitionopsSuite) TestToolBlockProviderDeletePartitionSplitsNvmeStyle(c *C) {
	r := &recordingRunner{}
	p := partitionops.NewToolBlockProvider(r)

	err := p.DeletePartition(context.Background(), "/dev/nvme0n1p3")
	c.Assert(err, IsNil)
	c.Assert(r.calls, HasLen, 1)
	c.Check(r.calls[0].args, DeepEquals, []string{"--delete", "/dev/nvme0n1", "3"})
}

func (s *partitionopsSuite) TestToolBlockProviderSetPartitionTypeName(c *C) {
	r := &recordingRunner{}
	p := partitionops.NewToolBlockProvider(r)

	c.Assert(p.SetPartitionType(context.Background(), "/dev/sdb1", "8300"), IsNil)
	c.Check(r.calls[0].args, DeepEquals, []string{"--part-type", "/dev/sdb", "1", "8300"})

	c.Assert(p.SetPartitionName(context.Background(), "/dev/sdb1", "backup"), IsNil)
	c.Check(r.calls[1].args, DeepEquals, []string{"--part-label", "/dev/sdb", "1", "backup"})
}

func (s *partitionopsSuite) TestToolBlockProviderFormatBlockRejectsUnsupportedType(c *C) {
	r := &recordingRunner{}
	p := partitionops.NewToolBlockProvider(r)

	err := p.FormatBlock(context.Background(), "/dev/sdb1", "zfs", nil)
	c.Assert(err, NotNil)
	c.Check(model.KindOf(err), Equals, model.KindInvalidArgument)
	c.Check(r.calls, HasLen, 0)
}

func (s *partitionopsSuite) TestToolBlockProviderFormatBlockGptWritesLabel(c *C) {
	r := &recordingRunner{}
	p := partitionops.NewToolBlockProvider(r)

	err := p.FormatBlock(context.Background(), "/dev/sdb", string(model.TableGPT), nil)
	c.Assert(err, IsNil)
	c.Assert(r.calls, HasLen, 1)
	c.Check(r.calls[0].args, DeepEquals, []string{"--label", "gpt", "/dev/sdb"})
}

func (s *partitionopsSuite) TestToolBlockProviderFormatBlockZeroesBeforeMkfs(c *C) {
	r := &recordingRunner{}
	p := partitionops.NewToolBlockProvider(r)

	err := p.FormatBlock(context.Background(), "/dev/sdb1", "vfat", partitionops.FormatOptions{"erase": "zero", "label": "USB"})
	c.Assert(err, IsNil)
	c.Assert(r.calls, HasLen, 2)
	c.Check(r.calls[0].name, Equals, "dd")
	c.Check(r.calls[1].name, Equals, "mkfs.vfat")
	c.Check(r.calls[1].args, DeepEquals, []string{"-n", "USB", "/dev/sdb1"})
}

func (s *partitionopsSuite) TestToolBlockProviderMountFilesystemPassesOptions(c *C) {
	defer dirs.SetRootDir("/")
	dirs.SetRootDir(c.MkDir())

	r := &recordingRunner{}
	p := partitionops.NewToolBlockProvider(r)

	mountPoint, err := p.MountFilesystem(context.Background(), "/dev/sdb1", map[string]string{"options": "ro,noatime"})
	c.Assert(err, IsNil)
	c.Assert(r.calls, HasLen, 1)
	c.Check(r.calls[0].name, Equals, "mount")
	c.Check(r.calls[0].args, DeepEquals, []string{"-o", "ro,noatime", "/dev/sdb1", mountPoint})
}

func (s *partitionopsSuite) TestToolBlockProviderUnmountFilesystemForce(c *C) {
	r := &recordingRunner{}
	p := partitionops.NewToolBlockProvider(r)

	err := p.UnmountFilesystem(context.Background(), "/dev/sdb1", true)
	c.Assert(err, IsNil)
	c.Check(r.calls[0].args, DeepEquals, []string{"-f", "/dev/sdb1"})
}
