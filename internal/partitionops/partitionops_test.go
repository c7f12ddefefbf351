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
	"errors"
	"os"
	"path/filepath"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/cosmic-utils/storage-serviced/internal/model"
	"github.com/cosmic-utils/storage-serviced/internal/partitionops"
)

func Test(t *testing.T) { TestingT(t) }

type partitionopsSuite struct{}

var _ = Suite(&partitionopsSuite{})

func (s *partitionopsSuite) TestValidateDosRejectsOffsetInsideMBRZone(c *C) {
	req := partitionops.CreatePartitionAndFormatRequest{
		TableType: model.TableDOS,
		Offset:    512,
		TypeID:    "83",
	}
	_, _, err := req.Validate()
	c.Assert(err, NotNil)
	c.Check(model.KindOf(err), Equals, model.KindInvalidArgument)
}

func (s *partitionopsSuite) TestValidateDosForcesEmptyNameAndPrimaryKind(c *C) {
	req := partitionops.CreatePartitionAndFormatRequest{
		TableType: model.TableDOS,
		Offset:    1024 * 1024,
		TypeID:    "83",
		Name:      "should-be-dropped",
	}
	createOpts, _, err := req.Validate()
	c.Assert(err, IsNil)
	c.Check(createOpts["partition-kind"], Equals, "primary")
	_, hasName := createOpts["partition-name"]
	c.Check(hasName, Equals, false)
}

func (s *partitionopsSuite) TestValidateGptRejectsOffsetOutsideUsableRange(c *C) {
	req := partitionops.CreatePartitionAndFormatRequest{
		TableType: model.TableGPT,
		Offset:    10,
		TypeID:    "0fc63daf-8483-4772-8e79-3d69d8477de4",
		Usable:    &model.ByteRange{Start: 1048576, End: 2000000},
	}
	_, _, err := req.Validate()
	c.Assert(err, NotNil)
	c.Check(model.KindOf(err), Equals, model.KindInvalidArgument)
}

func (s *partitionopsSuite) TestValidateGptAcceptsNameAndMapsEraseLabel(c *C) {
	req := partitionops.CreatePartitionAndFormatRequest{
		TableType: model.TableGPT,
		Offset:    1048576,
		Size:      1000,
		TypeID:    "0fc63daf-8483-4772-8e79-3d69d8477de4",
		Name:      "data",
		Erase:     true,
		Label:     "MYDATA",
		Usable:    &model.ByteRange{Start: 1048576, End: 2000000},
	}
	createOpts, formatOpts, err := req.Validate()
	c.Assert(err, IsNil)
	c.Check(createOpts["partition-name"], Equals, "data")
	c.Check(formatOpts["erase"], Equals, "zero")
	c.Check(formatOpts["label"], Equals, "MYDATA")
}

func (s *partitionopsSuite) TestValidateRejectsUnknownGptType(c *C) {
	req := partitionops.CreatePartitionAndFormatRequest{
		TableType: model.TableGPT,
		Offset:    1048576,
		TypeID:    "deadbeef-0000-0000-0000-000000000000",
		Usable:    &model.ByteRange{Start: 1048576, End: 2000000},
	}
	_, _, err := req.Validate()
	c.Assert(err, NotNil)
}

// fakeRunner is a minimal scripted toolexec.Runner for CheckFilesystem tests.
type fakeRunner struct {
	stdout string
	err    error
	gotArgs []string
	gotName string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	f.gotName = name
	f.gotArgs = args
	return f.stdout, "", f.err
}

func (s *partitionopsSuite) TestCheckFilesystemCleanExt4(c *C) {
	r := &fakeRunner{stdout: "clean\n"}
	outcome, _, err := partitionops.CheckFilesystem(context.Background(), r, "ext4", "/dev/sdb1", false)
	c.Assert(err, IsNil)
	c.Check(outcome, Equals, partitionops.CheckClean)
	c.Check(r.gotName, Equals, "fsck.ext4")
	c.Check(r.gotArgs, DeepEquals, []string{"-f", "-n", "/dev/sdb1"})
}

func (s *partitionopsSuite) TestCheckFilesystemRepairDetectsFixed(c *C) {
	r := &fakeRunner{stdout: "Inode bitmap differences: FIXED\n"}
	outcome, _, err := partitionops.RepairFilesystem(context.Background(), r, "ext4", "/dev/sdb1")
	c.Assert(err, IsNil)
	c.Check(outcome, Equals, partitionops.CheckRepaired)
	c.Check(r.gotArgs, DeepEquals, []string{"-f", "-y", "/dev/sdb1"})
}

func (s *partitionopsSuite) TestCheckFilesystemUnknownTypeFails(c *C) {
	r := &fakeRunner{}
	_, _, err := partitionops.CheckFilesystem(context.Background(), r, "zfs", "/dev/sdb1", false)
	c.Assert(err, NotNil)
	c.Check(model.KindOf(err), Equals, model.KindInvalidArgument)
}

func (s *partitionopsSuite) TestCheckFilesystemToolFailureWraps(c *C) {
	r := &fakeRunner{err: errors.New("exit status 4")}
	_, _, err := partitionops.CheckFilesystem(context.Background(), r, "ext4", "/dev/sdb1", false)
	c.Assert(err, NotNil)
	c.Check(model.KindOf(err), Equals, model.KindOperationFailed)
}

func (s *partitionopsSuite) TestBuildFstabEntryInjectsShowTokens(c *C) {
	entry := partitionops.BuildFstabEntry("/dev/sdb1", "/media/data", "ext4", "nosuid,nodev", true, "My Data", "drive-harddisk")
	c.Check(entry.Freq, Equals, 0)
	c.Check(entry.Passno, Equals, 0)
	c.Check(entry.Opts, Equals, "nosuid,nodev,x-gvfs-show,x-udisks-auth,x-gvfs-name=My Data,x-gvfs-icon=drive-harddisk")
}

func (s *partitionopsSuite) TestBuildFstabEntryRemovesShowTokensWhenNotShown(c *C) {
	entry := partitionops.BuildFstabEntry("/dev/sdb1", "/media/data", "ext4", "nosuid,x-gvfs-show,x-udisks-auth", false, "", "")
	c.Check(entry.Opts, Equals, "nosuid")
}

func (s *partitionopsSuite) TestTakeOwnershipNonRecursive(c *C) {
	dir := c.MkDir()
	err := partitionops.TakeOwnership(dir, os.Getuid(), os.Getgid(), false)
	c.Assert(err, IsNil)
}

func (s *partitionopsSuite) TestTakeOwnershipRejectsUnmounted(c *C) {
	err := partitionops.TakeOwnership("", 0, 0, false)
	c.Assert(err, NotNil)
	c.Check(model.KindOf(err), Equals, model.KindInvalidArgument)
}

func (s *partitionopsSuite) TestCreateImageCopiesBytes(c *C) {
	dir := c.MkDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "out.img")
	payload := []byte("0123456789abcdef")
	c.Assert(os.WriteFile(src, payload, 0o644), IsNil)

	var lastCopied uint64
	copied, err := partitionops.CreateImage(context.Background(), src, dst, uint64(len(payload)), func(c, t uint64) { lastCopied = c })
	c.Assert(err, IsNil)
	c.Check(copied, Equals, uint64(len(payload)))
	c.Check(lastCopied, Equals, uint64(len(payload)))

	got, err := os.ReadFile(dst)
	c.Assert(err, IsNil)
	c.Check(got, DeepEquals, payload)
}

// fakeBlockProvider records calls for Controller-level delegation tests.
type fakeBlockProvider struct {
	createCalled bool
}

func (f *fakeBlockProvider) CreatePartitionAndFormat(ctx context.Context, drive string, offset, size uint64, createOpts map[string]string, fsType string, formatOpts partitionops.FormatOptions) (string, error) {
	f.createCalled = true
	return drive + "1", nil
}
func (f *fakeBlockProvider) DeletePartition(ctx context.Context, path string) error { return nil }
func (f *fakeBlockProvider) SetPartitionType(ctx context.Context, path, typeID string) error { return nil }
func (f *fakeBlockProvider) SetPartitionName(ctx context.Context, path, name string) error { return nil }
func (f *fakeBlockProvider) SetPartitionFlags(ctx context.Context, path string, flags uint64) error { return nil }
func (f *fakeBlockProvider) ResizePartition(ctx context.Context, path string, newSize uint64) error { return nil }
func (f *fakeBlockProvider) FormatBlock(ctx context.Context, path, fsType string, opts partitionops.FormatOptions) error { return nil }
func (f *fakeBlockProvider) MountFilesystem(ctx context.Context, path string, opts map[string]string) (string, error) {
	return "/media/data", nil
}
func (f *fakeBlockProvider) UnmountFilesystem(ctx context.Context, path string, force bool) error { return nil }
func (f *fakeBlockProvider) SetLabel(ctx context.Context, path, label string) error { return nil }

func (s *partitionopsSuite) TestControllerCreatePartitionAndFormatDelegatesAfterValidation(c *C) {
	fp := &fakeBlockProvider{}
	ctrl := partitionops.NewController(fp)
	req := partitionops.CreatePartitionAndFormatRequest{
		TableType: model.TableDOS,
		Offset:    1024 * 1024,
		TypeID:    "83",
	}
	path, err := ctrl.CreatePartitionAndFormat(context.Background(), req)
	c.Assert(err, IsNil)
	c.Check(fp.createCalled, Equals, true)
	c.Check(path, Equals, "1")
}

func (s *partitionopsSuite) TestControllerCreatePartitionAndFormatStopsOnInvalidRequest(c *C) {
	fp := &fakeBlockProvider{}
	ctrl := partitionops.NewController(fp)
	req := partitionops.CreatePartitionAndFormatRequest{TableType: model.TableDOS, Offset: 0, TypeID: "83"}
	_, err := ctrl.CreatePartitionAndFormat(context.Background(), req)
	c.Assert(err, NotNil)
	c.Check(fp.createCalled, Equals, false)
}

func (s *partitionopsSuite) TestControllerMountFilesystemReturnsProviderMountPoint(c *C) {
	fp := &fakeBlockProvider{}
	ctrl := partitionops.NewController(fp)
	mp, err := ctrl.MountFilesystem(context.Background(), "/dev/sdb1")
	c.Assert(err, IsNil)
	c.Check(mp, Equals, "/media/data")
}

func (s *partitionopsSuite) TestEditEncryptionOptionsRequiresEditor(c *C) {
	fp := &fakeBlockProvider{}
	ctrl := partitionops.NewController(fp)
	err := ctrl.EditEncryptionOptions(context.Background(), nil, "/dev/mapper/crypt1", nil)
	c.Assert(err, NotNil)
	c.Check(model.KindOf(err), Equals, model.KindInvalidArgument)
}
