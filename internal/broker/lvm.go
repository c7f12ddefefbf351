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

// lvm.go exports the LVM interface (§6): a thin view over internal/logical
// restricted to the LVM-specific subset of its general logical-entity API,
// since LVM predates the unified Logical interface and clients written
// against it never learned about MD/BTRFS.
package broker

import (
	"context"

	"github.com/godbus/dbus/v5"

	"github.com/cosmic-utils/storage-serviced/internal/authority"
)

const ifaceLVM = "org.cosmic.StorageServiced.LVM"

type lvmIface struct{ b *Broker }

func (v *lvmIface) ListVolumeGroups(sender dbus.Sender) (string, *dbus.Error) {
	return v.b.invoke(context.Background(), sender, ifaceLVM, "ListVolumeGroups", "org.cosmic.storageserviced.lvm.read", "", authority.CheckNone,
		func(ctx context.Context) (interface{}, error) {
			return v.b.Logical.ListVolumeGroups(ctx)
		})
}

func (v *lvmIface) ListLogicalVolumes(sender dbus.Sender) (string, *dbus.Error) {
	return v.b.invoke(context.Background(), sender, ifaceLVM, "ListLogicalVolumes", "org.cosmic.storageserviced.lvm.read", "", authority.CheckNone,
		func(ctx context.Context) (interface{}, error) {
			return v.b.Logical.ListLogicalVolumes(ctx)
		})
}

func (v *lvmIface) ListPhysicalVolumes(sender dbus.Sender) (string, *dbus.Error) {
	return v.b.invoke(context.Background(), sender, ifaceLVM, "ListPhysicalVolumes", "org.cosmic.storageserviced.lvm.read", "", authority.CheckNone,
		func(ctx context.Context) (interface{}, error) {
			return v.b.Logical.ListPhysicalVolumes(ctx)
		})
}

func (v *lvmIface) CreateVolumeGroup(vgName string, devicesJSON string, sender dbus.Sender) (string, *dbus.Error) {
	devices, err := decodeStringSlice(devicesJSON)
	if err != nil {
		return "", toDBusError("CreateVolumeGroup", err)
	}
	return v.b.invoke(context.Background(), sender, ifaceLVM, "CreateVolumeGroup", "org.cosmic.storageserviced.lvm.modify", vgName, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			if err := v.b.Logical.CreateVolumeGroup(ctx, vgName, devices); err != nil {
				return nil, err
			}
			v.b.emitSignal(v.b.Paths.LVM, ifaceLVM, "VolumeGroupCreated", vgName)
			v.b.emitSignal(v.b.Paths.Logical, ifaceLogical, "LogicalTopologyChanged", "lvm_vg_created")
			return struct{}{}, nil
		})
}

func (v *lvmIface) DeleteVolumeGroup(vgName string, sender dbus.Sender) (string, *dbus.Error) {
	return v.b.invoke(context.Background(), sender, ifaceLVM, "DeleteVolumeGroup", "org.cosmic.storageserviced.lvm.modify", vgName, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			if err := v.b.Logical.DeleteVolumeGroup(ctx, vgName); err != nil {
				return nil, err
			}
			v.b.emitSignal(v.b.Paths.LVM, ifaceLVM, "VolumeGroupRemoved", vgName)
			v.b.emitSignal(v.b.Paths.Logical, ifaceLogical, "LogicalTopologyChanged", "lvm_vg_removed")
			return struct{}{}, nil
		})
}

func (v *lvmIface) CreateLogicalVolume(vgName, lvName string, sizeBytes uint64, sender dbus.Sender) (string, *dbus.Error) {
	return v.b.invoke(context.Background(), sender, ifaceLVM, "CreateLogicalVolume", "org.cosmic.storageserviced.lvm.modify", vgName+"/"+lvName, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			lvPath, err := v.b.Logical.CreateLogicalVolume(ctx, vgName, lvName, sizeBytes)
			if err != nil {
				return nil, err
			}
			v.b.emitSignal(v.b.Paths.LVM, ifaceLVM, "LogicalVolumeCreated", lvPath)
			v.b.emitSignal(v.b.Paths.Logical, ifaceLogical, "LogicalTopologyChanged", "lvm_lv_created")
			return struct {
				DevicePath string `json:"device_path"`
			}{lvPath}, nil
		})
}

func (v *lvmIface) DeleteLogicalVolume(lvPath string, sender dbus.Sender) (string, *dbus.Error) {
	return v.b.invoke(context.Background(), sender, ifaceLVM, "DeleteLogicalVolume", "org.cosmic.storageserviced.lvm.modify", lvPath, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			if err := v.b.Logical.DeleteLogicalVolume(ctx, lvPath); err != nil {
				return nil, err
			}
			v.b.emitSignal(v.b.Paths.LVM, ifaceLVM, "LogicalVolumeRemoved", lvPath)
			v.b.emitSignal(v.b.Paths.Logical, ifaceLogical, "LogicalTopologyChanged", "lvm_lv_removed")
			return struct{}{}, nil
		})
}

func (v *lvmIface) ResizeLogicalVolume(lvPath string, newSizeBytes uint64, sender dbus.Sender) (string, *dbus.Error) {
	return v.b.invoke(context.Background(), sender, ifaceLVM, "ResizeLogicalVolume", "org.cosmic.storageserviced.lvm.modify", lvPath, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			return struct{}{}, v.b.Logical.ResizeLogicalVolume(ctx, lvPath, newSizeBytes)
		})
}

func (v *lvmIface) RemovePhysicalVolume(vgName, device string, sender dbus.Sender) (string, *dbus.Error) {
	return v.b.invoke(context.Background(), sender, ifaceLVM, "RemovePhysicalVolume", "org.cosmic.storageserviced.lvm.modify", device, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			return struct{}{}, v.b.Logical.RemovePhysicalVolume(ctx, vgName, device)
		})
}
