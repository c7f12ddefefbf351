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

// topology.go enforces the two invariants spec.md names as defining the
// system (§1): lock a LUKS container before deleting it, unmount a
// filesystem before locking its container. DeletePartition and Lock both
// walk the discovery tree for their target's mounted descendants before
// acting, so a container is never removed out from under a live mount and a
// mapper is never closed out from under a live mount (§8 Scenario 4).
package broker

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/cosmic-utils/storage-serviced/internal/model"
)

// findVolumeNode searches root's subtree (inclusive) for the node whose
// DevicePath matches devicePath.
func findVolumeNode(root *model.VolumeInfo, devicePath string) *model.VolumeInfo {
	if root == nil {
		return nil
	}
	if root.DevicePath == devicePath {
		return root
	}
	for _, child := range root.Children {
		if found := findVolumeNode(child, devicePath); found != nil {
			return found
		}
	}
	return nil
}

// resolveVolume locates devicePath anywhere in the current discovery tree.
func (b *Broker) resolveVolume(ctx context.Context, devicePath string) (*model.VolumeInfo, error) {
	disks, err := b.UDisks.GetDisksWithVolumes(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range disks {
		if found := findVolumeNode(d.Volume, devicePath); found != nil {
			return found, nil
		}
	}
	return nil, nil
}

// mountedFilesystems collects every node in root's subtree (inclusive) that
// is a mounted filesystem, deepest descendants first so unmounting a child
// never races an unmount of its parent mount.
func mountedFilesystems(root *model.VolumeInfo) []*model.VolumeInfo {
	if root == nil {
		return nil
	}
	var out []*model.VolumeInfo
	for _, child := range root.Children {
		out = append(out, mountedFilesystems(child)...)
	}
	if len(root.MountPoints) > 0 {
		out = append(out, root)
	}
	return out
}

// unmountDescendantFilesystems unmounts every mounted filesystem at or under
// devicePath, aborting at the first failure with that failure's error kind.
func (b *Broker) unmountDescendantFilesystems(ctx context.Context, devicePath string) error {
	node, err := b.resolveVolume(ctx, devicePath)
	if err != nil {
		return err
	}
	if node == nil {
		return nil
	}
	for _, fs := range mountedFilesystems(node) {
		mountPoint := fs.MountPoints[0]
		if err := b.Partitions.UnmountFilesystem(ctx, fs.DevicePath, mountPoint, false, false); err != nil {
			return err
		}
	}
	return nil
}

// cleartextChildMapperName reports the /dev/mapper mapper name of node's
// cleartext child, if node is an unlocked LUKS container. It does not key off
// Kind, since a container living under a partition table is reclassified to
// VolumePartition once it is placed into its parent's Children slice; the
// structural shape (one child, mapped under /dev/mapper) is what actually
// identifies the cleartext relationship.
func cleartextChildMapperName(node *model.VolumeInfo) (string, bool) {
	if node == nil || len(node.Children) != 1 {
		return "", false
	}
	child := node.Children[0]
	if !strings.HasPrefix(child.DevicePath, "/dev/mapper/") {
		return "", false
	}
	return filepath.Base(child.DevicePath), true
}

// lockUnlockedContainer locks devicePath if discovery shows it as an
// unlocked LUKS container, so deleting a container never races its own
// cleartext mapping being closed out from under it.
func (b *Broker) lockUnlockedContainer(ctx context.Context, devicePath string) error {
	node, err := b.resolveVolume(ctx, devicePath)
	if err != nil {
		return err
	}
	mapperName, ok := cleartextChildMapperName(node)
	if !ok {
		return nil
	}
	return b.Luks.Lock(ctx, mapperName)
}
