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

// Package partitionops implements the partition/filesystem operations broker
// (§4.5): create_partition_and_format validation, the mutating provider
// calls that follow it, and the operations (check/repair, take_ownership,
// mount-options editing, create_image) the daemon performs locally.
package partitionops

import (
	"context"

	"github.com/cosmic-utils/storage-serviced/internal/model"
	"github.com/cosmic-utils/storage-serviced/internal/procfind"
)

// BlockProvider is the set of mutating provider calls the controller
// delegates to (create/delete/resize partitions, format/mount/unmount
// filesystems). The production implementation, NewToolBlockProvider, runs
// sfdisk, mkfs.*, mount and umount; tests substitute a recording fake.
type BlockProvider interface {
	CreatePartitionAndFormat(ctx context.Context, driveDevicePath string, offset, size uint64, createOpts map[string]string, fsType string, formatOpts FormatOptions) (partitionDevicePath string, err error)
	DeletePartition(ctx context.Context, partitionDevicePath string) error
	SetPartitionType(ctx context.Context, partitionDevicePath, typeID string) error
	SetPartitionName(ctx context.Context, partitionDevicePath, name string) error
	SetPartitionFlags(ctx context.Context, partitionDevicePath string, flags uint64) error
	ResizePartition(ctx context.Context, partitionDevicePath string, newSize uint64) error
	FormatBlock(ctx context.Context, devicePath, fsType string, opts FormatOptions) error
	MountFilesystem(ctx context.Context, devicePath string, opts map[string]string) (mountPoint string, err error)
	UnmountFilesystem(ctx context.Context, devicePath string, force bool) error
	SetLabel(ctx context.Context, devicePath, label string) error
}

// Controller wires the provider calls together with the local tool-executor
// operations behind one cohesive API.
type Controller struct {
	Provider BlockProvider
}

func NewController(p BlockProvider) *Controller {
	return &Controller{Provider: p}
}

// CreatePartitionAndFormat validates req and, on success, issues the
// provider call.
func (c *Controller) CreatePartitionAndFormat(ctx context.Context, req CreatePartitionAndFormatRequest) (string, error) {
	createOpts, formatOpts, err := req.Validate()
	if err != nil {
		return "", err
	}
	return c.Provider.CreatePartitionAndFormat(ctx, req.DriveDevicePath, req.Offset, req.Size, createOpts, req.FilesystemType, formatOpts)
}

func (c *Controller) DeletePartition(ctx context.Context, partitionDevicePath string) error {
	return c.Provider.DeletePartition(ctx, partitionDevicePath)
}

func (c *Controller) SetPartitionType(ctx context.Context, partitionDevicePath, typeID string) error {
	return c.Provider.SetPartitionType(ctx, partitionDevicePath, typeID)
}

func (c *Controller) SetPartitionName(ctx context.Context, partitionDevicePath, name string) error {
	return c.Provider.SetPartitionName(ctx, partitionDevicePath, name)
}

func (c *Controller) SetPartitionFlags(ctx context.Context, partitionDevicePath string, flags uint64) error {
	return c.Provider.SetPartitionFlags(ctx, partitionDevicePath, flags)
}

func (c *Controller) ResizePartition(ctx context.Context, partitionDevicePath string, newSize uint64) error {
	return c.Provider.ResizePartition(ctx, partitionDevicePath, newSize)
}

func (c *Controller) FormatBlock(ctx context.Context, devicePath, fsType string, erase bool, label string) error {
	opts := FormatOptions{}
	if erase {
		opts["erase"] = "zero"
	}
	if label != "" {
		opts["label"] = label
	}
	return c.Provider.FormatBlock(ctx, devicePath, fsType, opts)
}

func (c *Controller) SetLabel(ctx context.Context, devicePath, label string) error {
	return c.Provider.SetLabel(ctx, devicePath, label)
}

// MountFilesystem mounts devicePath and returns the actual mount point the
// provider assigns, which may differ from any request hint.
func (c *Controller) MountFilesystem(ctx context.Context, devicePath string) (string, error) {
	return c.Provider.MountFilesystem(ctx, devicePath, nil)
}

// UnmountFilesystem resolves a device, optionally killing processes holding
// the mount open first when killProcesses is true (§4.5).
func (c *Controller) UnmountFilesystem(ctx context.Context, devicePath, mountPoint string, force, killProcesses bool) error {
	if killProcesses && mountPoint != "" {
		procs := procfind.FindUsingMount(mountPoint)
		if len(procs) > 0 {
			pids := make([]int, len(procs))
			for i, p := range procs {
				pids[i] = p.PID
			}
			procfind.KillProcesses(pids)
		}
	}
	return c.Provider.UnmountFilesystem(ctx, devicePath, force)
}

// GetBlockingProcesses delegates to the process finder (§4.10).
func (c *Controller) GetBlockingProcesses(mountPoint string) []procfind.ProcessInfo {
	return procfind.FindUsingMount(mountPoint)
}

// EditEncryptionOptions forwards to the crypttab editor passed in and
// reports InvalidArgument when none is given. The controller itself holds
// no crypttab-editing logic; the broker's SetEncryptionOptions calls
// luks.SetEncryptionOptions directly rather than this method (§4.6, §4.5).
type EncryptionOptionsEditor func(ctx context.Context, cryptoDevicePath string, options map[string]string) error

func (c *Controller) EditEncryptionOptions(ctx context.Context, editor EncryptionOptionsEditor, cryptoDevicePath string, options map[string]string) error {
	if editor == nil {
		return model.NewError(model.KindInvalidArgument, "partition %s has no crypto mapping to edit", cryptoDevicePath)
	}
	return editor(ctx, cryptoDevicePath, options)
}
