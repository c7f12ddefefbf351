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

package partitionops

import (
	"os"
	"path/filepath"

	"github.com/cosmic-utils/storage-serviced/internal/model"
)

// TakeOwnership chowns root (and, if recursive, everything beneath it) to
// uid/gid. The filesystem must already be mounted; callers resolve
// mountPoint via discovery before calling this (§4.5).
func TakeOwnership(mountPoint string, uid, gid int, recursive bool) error {
	if mountPoint == "" {
		return model.NewError(model.KindInvalidArgument, "filesystem is not mounted")
	}

	if !recursive {
		if err := os.Chown(mountPoint, uid, gid); err != nil {
			return model.WrapError(model.KindOperationFailed, err, "chown %s", mountPoint)
		}
		return nil
	}

	err := filepath.Walk(mountPoint, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// a vanished entry mid-walk is not fatal; skip it.
			return nil
		}
		return os.Lchown(path, uid, gid)
	})
	if err != nil {
		return model.WrapError(model.KindOperationFailed, err, "recursive chown of %s", mountPoint)
	}
	return nil
}
