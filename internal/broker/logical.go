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
	"github.com/cosmic-utils/storage-serviced/internal/logical"
	"github.com/cosmic-utils/storage-serviced/internal/model"
)

const ifaceLogical = "org.cosmic.StorageServiced.Logical"

type logicalIface struct{ b *Broker }

func (e *logicalIface) ListLogicalEntities(sender dbus.Sender) (string, *dbus.Error) {
	return e.b.invoke(context.Background(), sender, ifaceLogical, "ListLogicalEntities", "org.cosmic.storageserviced.logical.read", "", authority.CheckNone,
		func(ctx context.Context) (interface{}, error) {
			vgs, err := e.b.Logical.ListVolumeGroups(ctx)
			if err != nil {
				return nil, err
			}
			lvs, err := e.b.Logical.ListLogicalVolumes(ctx)
			if err != nil {
				return nil, err
			}
			pvs, err := e.b.Logical.ListPhysicalVolumes(ctx)
			if err != nil {
				return nil, err
			}
			return logical.ToEntities(vgs, lvs, pvs), nil
		})
}

func (e *logicalIface) GetLogicalEntity(id string, sender dbus.Sender) (string, *dbus.Error) {
	return e.b.invoke(context.Background(), sender, ifaceLogical, "GetLogicalEntity", "org.cosmic.storageserviced.logical.read", id, authority.CheckNone,
		func(ctx context.Context) (interface{}, error) {
			entities, err := e.listEntities(ctx)
			if err != nil {
				return nil, err
			}
			for _, ent := range entities {
				if ent.ID == id {
					return ent, nil
				}
			}
			return nil, model.NewError(model.KindDeviceNotFound, "no logical entity %q", id)
		})
}

func (e *logicalIface) ListLogicalMembers(id string, sender dbus.Sender) (string, *dbus.Error) {
	return e.b.invoke(context.Background(), sender, ifaceLogical, "ListLogicalMembers", "org.cosmic.storageserviced.logical.read", id, authority.CheckNone,
		func(ctx context.Context) (interface{}, error) {
			entities, err := e.listEntities(ctx)
			if err != nil {
				return nil, err
			}
			for _, ent := range entities {
				if ent.ID == id {
					return ent.Members, nil
				}
			}
			return nil, model.NewError(model.KindDeviceNotFound, "no logical entity %q", id)
		})
}

func (e *logicalIface) listEntities(ctx context.Context) ([]model.LogicalEntity, error) {
	vgs, err := e.b.Logical.ListVolumeGroups(ctx)
	if err != nil {
		return nil, err
	}
	lvs, err := e.b.Logical.ListLogicalVolumes(ctx)
	if err != nil {
		return nil, err
	}
	pvs, err := e.b.Logical.ListPhysicalVolumes(ctx)
	if err != nil {
		return nil, err
	}
	return logical.ToEntities(vgs, lvs, pvs), nil
}

// --- MD-RAID entry points ------------------------------------------------

func (e *logicalIface) CreateRAIDArray(arrayName, level, devicesJSON string, sender dbus.Sender) (string, *dbus.Error) {
	devices, err := decodeStringSlice(devicesJSON)
	if err != nil {
		return "", toDBusError("CreateRAIDArray", err)
	}
	return e.b.invoke(context.Background(), sender, ifaceLogical, "CreateRAIDArray", "org.cosmic.storageserviced.logical.modify", arrayName, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			if err := e.b.Logical.CreateRAIDArray(ctx, arrayName, level, devices); err != nil {
				return nil, err
			}
			e.b.emitSignal(e.b.Paths.Logical, ifaceLogical, "LogicalTopologyChanged", "md_array_created")
			return struct{}{}, nil
		})
}

func (e *logicalIface) StopRAIDArray(arrayName string, sender dbus.Sender) (string, *dbus.Error) {
	return e.b.invoke(context.Background(), sender, ifaceLogical, "StopRAIDArray", "org.cosmic.storageserviced.logical.modify", arrayName, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			if err := e.b.Logical.StopRAIDArray(ctx, arrayName); err != nil {
				return nil, err
			}
			e.b.emitSignal(e.b.Paths.Logical, ifaceLogical, "LogicalTopologyChanged", "md_array_stopped")
			return struct{}{}, nil
		})
}

func (e *logicalIface) AssembleRAIDArray(arrayName, devicesJSON string, sender dbus.Sender) (string, *dbus.Error) {
	devices, err := decodeStringSlice(devicesJSON)
	if err != nil {
		return "", toDBusError("AssembleRAIDArray", err)
	}
	return e.b.invoke(context.Background(), sender, ifaceLogical, "AssembleRAIDArray", "org.cosmic.storageserviced.logical.modify", arrayName, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			if err := e.b.Logical.AssembleRAIDArray(ctx, arrayName, devices); err != nil {
				return nil, err
			}
			e.b.emitSignal(e.b.Paths.Logical, ifaceLogical, "LogicalTopologyChanged", "md_array_assembled")
			return struct{}{}, nil
		})
}

func (e *logicalIface) AddRAIDMember(arrayName, device string, sender dbus.Sender) (string, *dbus.Error) {
	return e.b.invoke(context.Background(), sender, ifaceLogical, "AddRAIDMember", "org.cosmic.storageserviced.logical.modify", arrayName, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			return struct{}{}, e.b.Logical.AddRAIDMember(ctx, arrayName, device)
		})
}

func (e *logicalIface) RemoveRAIDMember(arrayName, device string, sender dbus.Sender) (string, *dbus.Error) {
	return e.b.invoke(context.Background(), sender, ifaceLogical, "RemoveRAIDMember", "org.cosmic.storageserviced.logical.modify", arrayName, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			return struct{}{}, e.b.Logical.RemoveRAIDMember(ctx, arrayName, device)
		})
}

// --- BTRFS entry points ---------------------------------------------------

func (e *logicalIface) AddBTRFSDevice(device, mountPoint string, sender dbus.Sender) (string, *dbus.Error) {
	return e.b.invoke(context.Background(), sender, ifaceLogical, "AddBTRFSDevice", "org.cosmic.storageserviced.logical.modify", mountPoint, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			if err := e.b.Logical.AddBTRFSDevice(ctx, device, mountPoint); err != nil {
				return nil, err
			}
			e.b.emitSignal(e.b.Paths.Logical, ifaceLogical, "LogicalTopologyChanged", "btrfs_device_added")
			return struct{}{}, nil
		})
}

func (e *logicalIface) RemoveBTRFSDevice(device, mountPoint string, sender dbus.Sender) (string, *dbus.Error) {
	return e.b.invoke(context.Background(), sender, ifaceLogical, "RemoveBTRFSDevice", "org.cosmic.storageserviced.logical.modify", mountPoint, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			if err := e.b.Logical.RemoveBTRFSDevice(ctx, device, mountPoint); err != nil {
				return nil, err
			}
			e.b.emitSignal(e.b.Paths.Logical, ifaceLogical, "LogicalTopologyChanged", "btrfs_device_removed")
			return struct{}{}, nil
		})
}

func (e *logicalIface) ResizeBTRFS(mountPoint, size string, sender dbus.Sender) (string, *dbus.Error) {
	return e.b.invoke(context.Background(), sender, ifaceLogical, "ResizeBTRFS", "org.cosmic.storageserviced.logical.modify", mountPoint, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			return struct{}{}, e.b.Logical.ResizeBTRFS(ctx, mountPoint, size)
		})
}

func (e *logicalIface) LabelBTRFS(mountPoint, label string, sender dbus.Sender) (string, *dbus.Error) {
	return e.b.invoke(context.Background(), sender, ifaceLogical, "LabelBTRFS", "org.cosmic.storageserviced.logical.modify", mountPoint, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			return struct{}{}, e.b.Logical.LabelBTRFS(ctx, mountPoint, label)
		})
}

func (e *logicalIface) SetDefaultBTRFSSubvolume(mountPoint string, subvolID uint64, sender dbus.Sender) (string, *dbus.Error) {
	return e.b.invoke(context.Background(), sender, ifaceLogical, "SetDefaultBTRFSSubvolume", "org.cosmic.storageserviced.logical.modify", mountPoint, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			return struct{}{}, e.b.Logical.SetDefaultBTRFSSubvolume(ctx, mountPoint, subvolID)
		})
}

