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

package broker

import (
	"context"

	"github.com/godbus/dbus/v5"

	"github.com/cosmic-utils/storage-serviced/internal/authority"
	"github.com/cosmic-utils/storage-serviced/internal/model"
	"github.com/cosmic-utils/storage-serviced/internal/partitionops"
	"github.com/cosmic-utils/storage-serviced/internal/procfind"
)

const ifaceFilesystems = "org.cosmic.StorageServiced.Filesystems"

// filesystemsIface exports the Filesystems interface's method table (§6).
type filesystemsIface struct{ b *Broker }

// supportedFilesystems is the static set of create/format filesystem types
// the daemon knows how to build, paired with the external tool required.
var supportedFilesystems = map[string]string{
	"ext2": "mkfs.ext2", "ext3": "mkfs.ext3", "ext4": "mkfs.ext4",
	"vfat": "mkfs.vfat", "ntfs": "mkfs.ntfs", "exfat": "mkfs.exfat",
	"btrfs": "mkfs.btrfs", "xfs": "mkfs.xfs", "swap": "mkswap",
}

func (f *filesystemsIface) ListFilesystems(sender dbus.Sender) (string, *dbus.Error) {
	return f.b.invoke(context.Background(), sender, ifaceFilesystems, "ListFilesystems", "org.cosmic.storageserviced.filesystems.read", "", authority.CheckNone,
		func(ctx context.Context) (interface{}, error) {
			return f.b.UDisks.GetDisksWithPartitions(ctx)
		})
}

func (f *filesystemsIface) GetSupportedFilesystems(sender dbus.Sender) (string, *dbus.Error) {
	return f.b.invoke(context.Background(), sender, ifaceFilesystems, "GetSupportedFilesystems", "org.cosmic.storageserviced.filesystems.read", "", authority.CheckNone,
		func(ctx context.Context) (interface{}, error) {
			names := make([]string, 0, len(supportedFilesystems))
			for name := range supportedFilesystems {
				names = append(names, name)
			}
			return names, nil
		})
}

func (f *filesystemsIface) GetFilesystemTools(sender dbus.Sender) (string, *dbus.Error) {
	return f.b.invoke(context.Background(), sender, ifaceFilesystems, "GetFilesystemTools", "org.cosmic.storageserviced.filesystems.read", "", authority.CheckNone,
		func(ctx context.Context) (interface{}, error) {
			return supportedFilesystems, nil
		})
}

func (f *filesystemsIface) Format(devicePath, fsType, optionsJSON string, sender dbus.Sender) (string, *dbus.Error) {
	opts, err := decodeFormatOptions(optionsJSON)
	if err != nil {
		return "", toDBusError("Format", err)
	}
	return f.b.invoke(context.Background(), sender, ifaceFilesystems, "Format", "org.cosmic.storageserviced.filesystems.format", devicePath, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			if _, ok := supportedFilesystems[fsType]; !ok {
				return nil, model.NewError(model.KindInvalidArgument, "unsupported filesystem type %q", fsType)
			}
			if err := f.b.Partitions.Provider.FormatBlock(ctx, devicePath, fsType, opts); err != nil {
				return nil, err
			}
			f.b.emitSignal(f.b.Paths.Filesystems, ifaceFilesystems, "Formatted", devicePath, fsType)
			return struct{}{}, nil
		})
}

func (f *filesystemsIface) Mount(devicePath, optionsJSON string, sender dbus.Sender) (string, *dbus.Error) {
	return f.b.invoke(context.Background(), sender, ifaceFilesystems, "Mount", "org.cosmic.storageserviced.filesystems.mount", devicePath, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			mountPoint, err := f.b.Partitions.MountFilesystem(ctx, devicePath)
			if err != nil {
				return nil, err
			}
			f.b.emitSignal(f.b.Paths.Filesystems, ifaceFilesystems, "Mounted", devicePath, mountPoint)
			return struct {
				MountPoint string `json:"mount_point"`
			}{mountPoint}, nil
		})
}

func (f *filesystemsIface) Unmount(devicePath, mountPoint, optionsJSON string, sender dbus.Sender) (string, *dbus.Error) {
	force, killProcesses := decodeUnmountOptions(optionsJSON)
	return f.b.invoke(context.Background(), sender, ifaceFilesystems, "Unmount", "org.cosmic.storageserviced.filesystems.mount", devicePath, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			if err := f.b.Partitions.UnmountFilesystem(ctx, devicePath, mountPoint, force, killProcesses); err != nil {
				return nil, err
			}
			f.b.emitSignal(f.b.Paths.Filesystems, ifaceFilesystems, "Unmounted", devicePath)
			return struct{}{}, nil
		})
}

func (f *filesystemsIface) Check(devicePath, fsType, optionsJSON string, sender dbus.Sender) (string, *dbus.Error) {
	repair := decodeRepairOption(optionsJSON)
	return f.b.invoke(context.Background(), sender, ifaceFilesystems, "Check", "org.cosmic.storageserviced.filesystems.check", devicePath, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			outcome, output, err := partitionops.CheckFilesystem(ctx, f.b.Runner, fsType, devicePath, repair)
			return struct {
				Outcome string `json:"outcome"`
				Output  string `json:"output"`
			}{string(outcome), output}, err
		})
}

func (f *filesystemsIface) SetLabel(devicePath, label string, sender dbus.Sender) (string, *dbus.Error) {
	return f.b.invoke(context.Background(), sender, ifaceFilesystems, "SetLabel", "org.cosmic.storageserviced.filesystems.modify", devicePath, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			return struct{}{}, f.b.Partitions.SetLabel(ctx, devicePath, label)
		})
}

func (f *filesystemsIface) GetMountOptions(devicePath string, sender dbus.Sender) (string, *dbus.Error) {
	return f.b.invoke(context.Background(), sender, ifaceFilesystems, "GetMountOptions", "org.cosmic.storageserviced.filesystems.read", devicePath, authority.CheckNone,
		func(ctx context.Context) (interface{}, error) {
			entry, ok, err := partitionops.ReadFstabEntry(devicePath)
			if err != nil {
				return nil, err
			}
			if !ok {
				entry = partitionops.FstabEntry{FSName: devicePath}
			}
			return struct {
				MountAtStartup bool   `json:"mount_at_startup"`
				RequireAuth    bool   `json:"require_auth"`
				ShowInUI       bool   `json:"show_in_ui"`
				OtherOptions   string `json:"other_options"`
			}{entry.MountAtStartup(), entry.RequireAuth(), entry.ShowInUI(), entry.OtherOptions()}, nil
		})
}

func (f *filesystemsIface) EditMountOptions(devicePath, mountPoint, fsType, optionsJSON string, sender dbus.Sender) (string, *dbus.Error) {
	opts := decodeMountOptionsRequest(optionsJSON)
	return f.b.invoke(context.Background(), sender, ifaceFilesystems, "EditMountOptions", "org.cosmic.storageserviced.filesystems.modify", devicePath, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			entry := partitionops.BuildFstabEntry(devicePath, mountPoint, fsType, opts.OtherOptions, opts.ShowInUI, opts.GvfsName, opts.GvfsIcon)
			return struct{}{}, partitionops.WriteFstabEntry(entry)
		})
}

// DefaultMountOptions resets an existing fstab entry to the suggested
// default options; a device with no entry yet has nothing to reset, so the
// call succeeds without writing anything (§8's idempotence property).
func (f *filesystemsIface) DefaultMountOptions(devicePath, mountPoint, fsType string, sender dbus.Sender) (string, *dbus.Error) {
	return f.b.invoke(context.Background(), sender, ifaceFilesystems, "DefaultMountOptions", "org.cosmic.storageserviced.filesystems.modify", devicePath, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			_, ok, err := partitionops.ReadFstabEntry(devicePath)
			if err != nil {
				return nil, err
			}
			if !ok {
				return struct{}{}, nil
			}
			entry := partitionops.BuildFstabEntry(devicePath, mountPoint, fsType, partitionops.DefaultMountOptions, false, "", "")
			return struct{}{}, partitionops.WriteFstabEntry(entry)
		})
}

func (f *filesystemsIface) TakeOwnership(mountPoint string, uid, gid int32, recursive bool, sender dbus.Sender) (string, *dbus.Error) {
	return f.b.invoke(context.Background(), sender, ifaceFilesystems, "TakeOwnership", "org.cosmic.storageserviced.filesystems.modify", mountPoint, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			return struct{}{}, partitionops.TakeOwnership(mountPoint, int(uid), int(gid), recursive)
		})
}

func (f *filesystemsIface) GetBlockingProcesses(mountPoint string, sender dbus.Sender) (string, *dbus.Error) {
	return f.b.invoke(context.Background(), sender, ifaceFilesystems, "GetBlockingProcesses", "org.cosmic.storageserviced.filesystems.read", mountPoint, authority.CheckNone,
		func(ctx context.Context) (interface{}, error) {
			return procfind.FindUsingMount(mountPoint), nil
		})
}
