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

// partitions.go exports the Partitions interface (§6): partition-table and
// partition-level mutations layered directly on internal/partitionops.
// Every mutation here changes the logical view of the device tree, so each
// one re-emits LogicalTopologyChanged the way the table's "(topology-changed
// via broker)" note requires, rather than making Controller itself aware of
// the bus.
package broker

import (
	"context"
	"encoding/json"

	"github.com/godbus/dbus/v5"

	"github.com/cosmic-utils/storage-serviced/internal/authority"
	"github.com/cosmic-utils/storage-serviced/internal/model"
	"github.com/cosmic-utils/storage-serviced/internal/partitionops"
)

const ifacePartitions = "org.cosmic.StorageServiced.Partitions"

type partitionsIface struct{ b *Broker }

// CreatePartitionTable relabels a whole drive with a fresh, empty partition
// table, reusing the same FormatBlock provider call that formats a
// filesystem, with tableType ("gpt"/"dos") in place of a filesystem type.
func (p *partitionsIface) CreatePartitionTable(drivePath, tableType string, sender dbus.Sender) (string, *dbus.Error) {
	return p.b.invoke(context.Background(), sender, ifacePartitions, "CreatePartitionTable", "org.cosmic.storageserviced.partitions.modify", drivePath, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			if tableType != string(model.TableGPT) && tableType != string(model.TableDOS) {
				return nil, model.NewError(model.KindInvalidArgument, "unsupported partition table type %q", tableType)
			}
			if err := p.b.Partitions.FormatBlock(ctx, drivePath, tableType, false, ""); err != nil {
				return nil, err
			}
			p.b.emitSignal(p.b.Paths.Logical, ifaceLogical, "LogicalTopologyChanged", "partition_table_created")
			return struct{}{}, nil
		})
}

func (p *partitionsIface) CreatePartitionAndFormat(requestJSON string, sender dbus.Sender) (string, *dbus.Error) {
	var req struct {
		DriveDevicePath string           `json:"drive_device_path"`
		TableType       string           `json:"table_type"`
		Offset          uint64           `json:"offset"`
		Size            uint64           `json:"size"`
		TypeID          string           `json:"type_id"`
		Name            string           `json:"name"`
		FilesystemType  string           `json:"filesystem_type"`
		Erase           bool             `json:"erase"`
		Label           string           `json:"label"`
		Usable          *model.ByteRange `json:"usable,omitempty"`
	}
	if err := json.Unmarshal([]byte(requestJSON), &req); err != nil {
		return "", toDBusError("CreatePartitionAndFormat", model.WrapError(model.KindInvalidArgument, err, "decoding request"))
	}

	return p.b.invoke(context.Background(), sender, ifacePartitions, "CreatePartitionAndFormat", "org.cosmic.storageserviced.partitions.modify", req.DriveDevicePath, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			partPath, err := p.b.Partitions.CreatePartitionAndFormat(ctx, partitionsRequest(req.DriveDevicePath, req.TableType, req.Offset, req.Size, req.TypeID, req.Name, req.FilesystemType, req.Erase, req.Label, req.Usable))
			if err != nil {
				return nil, err
			}
			p.b.emitSignal(p.b.Paths.Filesystems, ifaceFilesystems, "Formatted", partPath, req.FilesystemType)
			p.b.emitSignal(p.b.Paths.Logical, ifaceLogical, "LogicalTopologyChanged", "partition_created")
			return struct {
				PartitionDevicePath string `json:"partition_device_path"`
			}{partPath}, nil
		})
}

// DeletePartition enforces the unmount-before-lock-before-delete ordering
// (§8 Scenario 4): any mounted cleartext child is unmounted, the container
// itself is locked if unlocked, and only then is the partition deleted.
// Any step's failure aborts with that step's error kind.
func (p *partitionsIface) DeletePartition(partitionDevicePath string, sender dbus.Sender) (string, *dbus.Error) {
	return p.b.invoke(context.Background(), sender, ifacePartitions, "DeletePartition", "org.cosmic.storageserviced.partitions.modify", partitionDevicePath, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			if err := p.b.unmountDescendantFilesystems(ctx, partitionDevicePath); err != nil {
				return nil, err
			}
			if err := p.b.lockUnlockedContainer(ctx, partitionDevicePath); err != nil {
				return nil, err
			}
			if err := p.b.Partitions.DeletePartition(ctx, partitionDevicePath); err != nil {
				return nil, err
			}
			p.b.emitSignal(p.b.Paths.Logical, ifaceLogical, "LogicalTopologyChanged", "partition_deleted")
			return struct{}{}, nil
		})
}

func (p *partitionsIface) SetPartitionType(partitionDevicePath, typeID string, sender dbus.Sender) (string, *dbus.Error) {
	return p.b.invoke(context.Background(), sender, ifacePartitions, "SetPartitionType", "org.cosmic.storageserviced.partitions.modify", partitionDevicePath, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			return struct{}{}, p.b.Partitions.SetPartitionType(ctx, partitionDevicePath, typeID)
		})
}

func (p *partitionsIface) SetPartitionName(partitionDevicePath, name string, sender dbus.Sender) (string, *dbus.Error) {
	return p.b.invoke(context.Background(), sender, ifacePartitions, "SetPartitionName", "org.cosmic.storageserviced.partitions.modify", partitionDevicePath, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			return struct{}{}, p.b.Partitions.SetPartitionName(ctx, partitionDevicePath, name)
		})
}

func (p *partitionsIface) SetPartitionFlags(partitionDevicePath string, flags uint64, sender dbus.Sender) (string, *dbus.Error) {
	return p.b.invoke(context.Background(), sender, ifacePartitions, "SetPartitionFlags", "org.cosmic.storageserviced.partitions.modify", partitionDevicePath, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			return struct{}{}, p.b.Partitions.SetPartitionFlags(ctx, partitionDevicePath, flags)
		})
}

func (p *partitionsIface) ResizePartition(partitionDevicePath string, newSize uint64, sender dbus.Sender) (string, *dbus.Error) {
	return p.b.invoke(context.Background(), sender, ifacePartitions, "ResizePartition", "org.cosmic.storageserviced.partitions.modify", partitionDevicePath, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			if err := p.b.Partitions.ResizePartition(ctx, partitionDevicePath, newSize); err != nil {
				return nil, err
			}
			p.b.emitSignal(p.b.Paths.Logical, ifaceLogical, "LogicalTopologyChanged", "partition_resized")
			return struct{}{}, nil
		})
}

func partitionsRequest(drivePath, tableType string, offset, size uint64, typeID, name, fsType string, erase bool, label string, usable *model.ByteRange) partitionops.CreatePartitionAndFormatRequest {
	return partitionops.CreatePartitionAndFormatRequest{
		DriveDevicePath: drivePath,
		TableType:       model.PartitionTableType(tableType),
		Offset:          offset,
		Size:            size,
		TypeID:          typeID,
		Name:            name,
		FilesystemType:  fsType,
		Erase:           erase,
		Label:           label,
		Usable:          usable,
	}
}
