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

package luks_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/cosmic-utils/storage-serviced/internal/luks"
	"github.com/cosmic-utils/storage-serviced/internal/model"
)

func Test(t *testing.T) { TestingT(t) }

type luksSuite struct{}

var _ = Suite(&luksSuite{})

type fakeRunner struct {
	calls []recordedCall
}

type recordedCall struct {
	name string
	args []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	f.calls = append(f.calls, recordedCall{name, args})
	return "", "", nil
}

func (s *luksSuite) TestListEncryptedDevicesFlattensTree(c *C) {
	tree := []*model.VolumeInfo{
		{
			Kind: model.VolumeBlock,
			Children: []*model.VolumeInfo{
				{Kind: model.VolumeCryptoContainer, DevicePath: "/dev/sda1"},
				{Kind: model.VolumeFilesystem, DevicePath: "/dev/sda2"},
			},
		},
	}
	found := luks.ListEncryptedDevices(tree)
	c.Assert(found, HasLen, 1)
	c.Check(found[0].DevicePath, Equals, "/dev/sda1")
}

func (s *luksSuite) TestFormatDefaultsToLuks2(c *C) {
	r := &fakeRunner{}
	ctrl := luks.NewController(r)
	err := ctrl.Format(context.Background(), "/dev/sda1", "hunter2", "")
	c.Assert(err, IsNil)
	c.Assert(r.calls, HasLen, 1)
	c.Check(r.calls[0].name, Equals, "cryptsetup")
	found := false
	for i, a := range r.calls[0].args {
		if a == "--type" && i+1 < len(r.calls[0].args) {
			c.Check(r.calls[0].args[i+1], Equals, "luks2")
			found = true
		}
	}
	c.Check(found, Equals, true)
}

func (s *luksSuite) TestFormatRejectsUnknownVersion(c *C) {
	r := &fakeRunner{}
	ctrl := luks.NewController(r)
	err := ctrl.Format(context.Background(), "/dev/sda1", "hunter2", luks.Version("luks3"))
	c.Assert(err, NotNil)
	c.Check(model.KindOf(err), Equals, model.KindInvalidArgument)
	c.Check(r.calls, HasLen, 0)
}

func (s *luksSuite) TestUnlockReturnsMapperPath(c *C) {
	r := &fakeRunner{}
	ctrl := luks.NewController(r)
	path, err := ctrl.Unlock(context.Background(), "/dev/sda1", "hunter2", "crypt_sda1")
	c.Assert(err, IsNil)
	c.Check(path, Equals, "/dev/mapper/crypt_sda1")
}

func (s *luksSuite) TestLockClosesMapperDevice(c *C) {
	r := &fakeRunner{}
	ctrl := luks.NewController(r)
	err := ctrl.Lock(context.Background(), "crypt_sda1")
	c.Assert(err, IsNil)
	c.Assert(r.calls, HasLen, 1)
	c.Check(r.calls[0].args, DeepEquals, []string{"luksClose", "crypt_sda1"})
}

func (s *luksSuite) TestCrypttabRoundTripPreservesOtherEntries(c *C) {
	dir := c.MkDir()
	path := filepath.Join(dir, "crypttab")
	c.Assert(os.WriteFile(path, []byte("crypt_other /dev/sdb1 none luks\n"), 0o644), IsNil)

	err := luks.SetEncryptionOptions(path, "/dev/sda1", "crypt_sda1", map[string]string{"discard": ""})
	c.Assert(err, IsNil)

	opts, err := luks.GetEncryptionOptions(path, "/dev/sda1")
	c.Assert(err, IsNil)
	c.Check(opts.Name, Equals, "crypt_sda1")
	_, hasDiscard := opts.Options["discard"]
	c.Check(hasDiscard, Equals, true)

	other, err := luks.GetEncryptionOptions(path, "/dev/sdb1")
	c.Assert(err, IsNil)
	c.Check(other.Name, Equals, "crypt_other")
}

func (s *luksSuite) TestDefaultEncryptionOptionsRemovesEntry(c *C) {
	dir := c.MkDir()
	path := filepath.Join(dir, "crypttab")
	c.Assert(os.WriteFile(path, []byte("crypt_sda1 /dev/sda1 none luks\n"), 0o644), IsNil)

	c.Assert(luks.DefaultEncryptionOptions(path, "/dev/sda1"), IsNil)

	_, err := luks.GetEncryptionOptions(path, "/dev/sda1")
	c.Assert(err, NotNil)
	c.Check(model.KindOf(err), Equals, model.KindDeviceNotFound)
}

func (s *luksSuite) TestGetEncryptionOptionsMissingFileIsNotFoundNotError(c *C) {
	dir := c.MkDir()
	path := filepath.Join(dir, "crypttab")

	_, err := luks.GetEncryptionOptions(path, "/dev/sda1")
	c.Assert(err, NotNil)
	c.Check(model.KindOf(err), Equals, model.KindDeviceNotFound)
}
