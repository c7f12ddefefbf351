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

// Package dirs centralizes every filesystem path storage-serviced touches,
// so tests can redirect the whole tree under a temporary root.
package dirs

import (
	"os"
	"path/filepath"
)

var (
	GlobalRootDir = "/"

	ConfigDir        string
	StateDir         string
	AuditDBPath      string
	RcloneUserConfig string
	RcloneSysConfig  string
	EtcFstab         string
	EtcCrypttab      string
	EtcPasswd        string
	ProcDir          string
)

func init() {
	SetRootDir("/")
}

// SetRootDir repoints every exported path under newRoot. Tests use this to
// run against a throwaway directory tree instead of the real filesystem.
func SetRootDir(newRoot string) {
	if newRoot == "" {
		newRoot = "/"
	}
	GlobalRootDir = newRoot

	ConfigDir = filepath.Join(newRoot, "etc/storage-serviced")
	StateDir = filepath.Join(newRoot, "var/lib/storage-serviced")
	AuditDBPath = filepath.Join(StateDir, "audit.db")
	RcloneSysConfig = filepath.Join(newRoot, "etc/rclone/system.conf")
	EtcFstab = filepath.Join(newRoot, "etc/fstab")
	EtcCrypttab = filepath.Join(newRoot, "etc/crypttab")
	EtcPasswd = filepath.Join(newRoot, "etc/passwd")
	ProcDir = filepath.Join(newRoot, "proc")

	RcloneUserConfig = filepath.Join(userConfigHome(newRoot), "rclone/rclone.conf")
}

func userConfigHome(root string) string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(root, StripRootDir(xdg))
	}
	home := os.Getenv("HOME")
	if home == "" {
		home = "/root"
	}
	return filepath.Join(root, StripRootDir(home), ".config")
}

// StripRootDir removes GlobalRootDir's concept from an absolute path already
// rooted elsewhere, so callers can re-root a path obtained from the
// environment under the current GlobalRootDir.
func StripRootDir(path string) string {
	if filepath.IsAbs(path) {
		return path[1:]
	}
	return path
}

// RuntimeMountRoot is the per-user scratch mount-point root for rclone
// mounts, rooted under XDG_RUNTIME_DIR when set.
func RuntimeMountRoot() string {
	if rt := os.Getenv("XDG_RUNTIME_DIR"); rt != "" {
		return filepath.Join(rt, "rclone")
	}
	return filepath.Join(GlobalRootDir, "run/user/0/rclone")
}

// SystemMountRoot is the fixed system-scope rclone mount-point root.
func SystemMountRoot() string {
	return filepath.Join(GlobalRootDir, "mnt/rclone")
}
