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

package model_test

import (
	"errors"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/cosmic-utils/storage-serviced/internal/model"
)

func Test(t *testing.T) { TestingT(t) }

type modelSuite struct{}

var _ = Suite(&modelSuite{})

func (s *modelSuite) TestCryptoContainerCapabilities(c *C) {
	locked := &model.VolumeInfo{Kind: model.VolumeCryptoContainer, Locked: true}
	c.Check(locked.CanUnlock(), Equals, true)
	c.Check(locked.CanLock(), Equals, false)
	c.Check(locked.CanMount(), Equals, false)

	unlocked := &model.VolumeInfo{Kind: model.VolumeCryptoContainer, Locked: false}
	c.Check(unlocked.CanUnlock(), Equals, false)
	c.Check(unlocked.CanLock(), Equals, true)
}

func (s *modelSuite) TestFilesystemCapabilities(c *C) {
	v := &model.VolumeInfo{Kind: model.VolumeFilesystem, HasFilesystem: true}
	c.Check(v.CanMount(), Equals, true)

	noFs := &model.VolumeInfo{Kind: model.VolumeFilesystem, HasFilesystem: false}
	c.Check(noFs.CanMount(), Equals, false)
}

func (s *modelSuite) TestBlockVolumeHasNoCapabilities(c *C) {
	v := &model.VolumeInfo{Kind: model.VolumeBlock, HasFilesystem: true}
	c.Check(v.CanMount(), Equals, false)
	c.Check(v.CanLock(), Equals, false)
	c.Check(v.CanUnlock(), Equals, false)
}

func (s *modelSuite) TestErrorWrappingPreservesKind(c *C) {
	cause := errors.New("exit status 1")
	err := model.WrapError(model.KindOperationFailed, cause, "mkfs.ext4 failed")

	c.Check(model.KindOf(err), Equals, model.KindOperationFailed)
	c.Check(errors.Is(err, cause), Equals, true)
	c.Check(errors.Unwrap(err), Equals, cause)
}

func (s *modelSuite) TestKindOfDefaultsForOpaqueError(c *C) {
	c.Check(model.KindOf(errors.New("boom")), Equals, model.KindOperationFailed)
}

func (s *modelSuite) TestByteRangeSize(c *C) {
	r := model.ByteRange{Start: 1024, End: 4096}
	c.Check(r.Size(), Equals, uint64(3072))
}
