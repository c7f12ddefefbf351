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

// Package udisks is the discovery engine (§4.4): it walks the storage
// provider's D-Bus object tree and classifies it into the drive/partition/
// volume tree the rest of the daemon reasons about.
package udisks

import (
	"context"
	"runtime"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sync/errgroup"

	"github.com/cosmic-utils/storage-serviced/internal/decode"
	"github.com/cosmic-utils/storage-serviced/internal/model"
)

const (
	busName            = "org.freedesktop.UDisks2"
	objectManagerPath  = "/org/freedesktop/UDisks2"
	objectManagerIface = "org.freedesktop.DBus.ObjectManager"

	ifaceDrive          = "org.freedesktop.UDisks2.Drive"
	ifaceBlock          = "org.freedesktop.UDisks2.Block"
	ifacePartition      = "org.freedesktop.UDisks2.Partition"
	ifacePartitionTable = "org.freedesktop.UDisks2.PartitionTable"
	ifaceFilesystem     = "org.freedesktop.UDisks2.Filesystem"
	ifaceEncrypted      = "org.freedesktop.UDisks2.Encrypted"
	ifaceLoop           = "org.freedesktop.UDisks2.Loop"
	ifacePhysicalVolume = "org.freedesktop.UDisks2.PhysicalVolume"
	ifaceLogicalVolume  = "org.freedesktop.UDisks2.LogicalVolume"
)

// RawObjects is the standard ObjectManager shape: object path -> interface
// name -> property name -> value.
type RawObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Provider is the minimal surface the discovery engine needs from the
// storage provider. The production implementation wraps a live bus
// connection; tests substitute a fixed object graph so classification logic
// runs without a real provider.
type Provider interface {
	ManagedObjects(ctx context.Context) (RawObjects, error)
}

type busProvider struct {
	obj dbus.BusObject
}

// NewBusProvider wraps a live system bus connection to the storage provider.
func NewBusProvider(conn *dbus.Conn) Provider {
	return &busProvider{obj: conn.Object(busName, dbus.ObjectPath(objectManagerPath))}
}

func (p *busProvider) ManagedObjects(ctx context.Context) (RawObjects, error) {
	var result RawObjects
	call := p.obj.CallWithContext(ctx, objectManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, model.WrapError(model.KindDBusError, call.Err, "GetManagedObjects failed")
	}
	if err := call.Store(&result); err != nil {
		return nil, model.WrapError(model.KindDBusError, err, "decoding managed objects")
	}
	return result, nil
}

// Engine is the discovery engine. It holds no mutable state of its own: each
// call re-reads the provider's object graph, so concurrent discoveries are
// safe and may race freely (§4.4).
type Engine struct {
	provider Provider
}

func NewEngine(p Provider) *Engine {
	return &Engine{provider: p}
}

// DiskWithPartitions pairs a drive with its partition table, if any.
type DiskWithPartitions struct {
	Disk       model.DiskInfo
	Partitions []model.PartitionInfo
}

// DiskWithVolumes pairs a drive with its classified volume tree.
type DiskWithVolumes struct {
	Disk   model.DiskInfo
	Volume *model.VolumeInfo
}

// GetDisks returns every drive, ordered removable-ascending then
// device-path-descending (fixed disks first, stable across runs).
func (e *Engine) GetDisks(ctx context.Context) ([]model.DiskInfo, error) {
	objs, err := e.provider.ManagedObjects(ctx)
	if err != nil {
		return nil, err
	}

	disks := make([]model.DiskInfo, 0)
	for _, dp := range sortedDrivePaths(objs) {
		blockPath, ok := wholeDiskBlockFor(objs, dp)
		if !ok {
			continue
		}
		disks = append(disks, buildDiskInfo(objs, blockPath, dp))
	}
	sortDisks(disks)
	return disks, nil
}

// GetDisk looks up a single drive by its whole-disk block device path.
func (e *Engine) GetDisk(ctx context.Context, devicePath string) (*model.DiskInfo, error) {
	disks, err := e.GetDisks(ctx)
	if err != nil {
		return nil, err
	}
	for i := range disks {
		if disks[i].DevicePath == devicePath {
			return &disks[i], nil
		}
	}
	return nil, model.NewError(model.KindDeviceNotFound, "no drive at %s", devicePath)
}

// GetDisksWithPartitions fans the per-drive partition-table walk out across
// worker goroutines, bounded by a semaphore sized to GOMAXPROCS, so one slow
// or hung drive cannot stall the rest of the scan (§4.4).
func (e *Engine) GetDisksWithPartitions(ctx context.Context) ([]DiskWithPartitions, error) {
	objs, err := e.provider.ManagedObjects(ctx)
	if err != nil {
		return nil, err
	}

	drivePaths := sortedDrivePaths(objs)
	results := make([]DiskWithPartitions, len(drivePaths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, dp := range drivePaths {
		i, dp := i, dp
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			default:
			}
			blockPath, ok := wholeDiskBlockFor(objs, dp)
			if !ok {
				return nil
			}
			disk := buildDiskInfo(objs, blockPath, dp)
			parts := buildPartitions(objs, blockPath, disk.DevicePath)
			results[i] = DiskWithPartitions{Disk: disk, Partitions: parts}
			return nil
		})
	}
	// errgroup's Go never actually returns an error above; present for the
	// cancellation propagation path only.
	_ = g.Wait()

	out := make([]DiskWithPartitions, 0, len(results))
	for _, r := range results {
		if r.Disk.DevicePath != "" {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return diskLess(out[i].Disk, out[j].Disk) })
	return out, nil
}

// GetDisksWithVolumes classifies each drive's full volume tree (partitions,
// crypto containers, nested filesystems, LVM physical/logical volumes).
func (e *Engine) GetDisksWithVolumes(ctx context.Context) ([]DiskWithVolumes, error) {
	objs, err := e.provider.ManagedObjects(ctx)
	if err != nil {
		return nil, err
	}

	drivePaths := sortedDrivePaths(objs)
	results := make([]DiskWithVolumes, len(drivePaths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i, dp := range drivePaths {
		i, dp := i, dp
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			default:
			}
			blockPath, ok := wholeDiskBlockFor(objs, dp)
			if !ok {
				return nil
			}
			disk := buildDiskInfo(objs, blockPath, dp)
			vol := classifyBlockVolume(objs, blockPath, disk.DevicePath)
			results[i] = DiskWithVolumes{Disk: disk, Volume: vol}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]DiskWithVolumes, 0, len(results))
	for _, r := range results {
		if r.Disk.DevicePath != "" {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return diskLess(out[i].Disk, out[j].Disk) })
	return out, nil
}

func sortedDrivePaths(objs RawObjects) []dbus.ObjectPath {
	paths := make([]dbus.ObjectPath, 0)
	for p, ifaces := range objs {
		if _, ok := ifaces[ifaceDrive]; ok {
			paths = append(paths, p)
		}
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return paths
}

// wholeDiskBlockFor finds the block object backing drive dp: the Block
// object whose "Drive" property equals dp and which carries no Partition
// interface of its own (i.e. it represents the whole disk, not one slice of
// it).
func wholeDiskBlockFor(objs RawObjects, dp dbus.ObjectPath) (dbus.ObjectPath, bool) {
	for p, ifaces := range objs {
		block, ok := ifaces[ifaceBlock]
		if !ok {
			continue
		}
		if _, isPartition := ifaces[ifacePartition]; isPartition {
			continue
		}
		drive, _ := decode.VariantString(block, "Drive")
		if dbus.ObjectPath(drive) == dp {
			return p, true
		}
	}
	return "", false
}

func buildDiskInfo(objs RawObjects, blockPath, drivePath dbus.ObjectPath) model.DiskInfo {
	driveProps := objs[drivePath][ifaceDrive]
	blockProps := objs[blockPath][ifaceBlock]

	devicePath, _ := decode.LoopBackingFile(blockProps)
	if devicePath == "" {
		if dev, ok := decode.VariantString(blockProps, "Device"); ok {
			devicePath = dev
		}
	}

	model_, _ := decode.VariantString(driveProps, "Model")
	serial, _ := decode.VariantString(driveProps, "Serial")
	vendor, _ := decode.VariantString(driveProps, "Vendor")
	revision, _ := decode.VariantString(driveProps, "Revision")
	size, _ := decode.VariantUint64(driveProps, "Size")
	removable := decode.VariantBool(driveProps, "Removable")
	ejectable := decode.VariantBool(driveProps, "Ejectable")
	mediaRemovable := decode.VariantBool(driveProps, "MediaRemovable")
	mediaAvailable := decode.VariantBool(driveProps, "MediaAvailable")
	optical := decode.VariantBool(driveProps, "Optical")
	opticalBlank := decode.VariantBool(driveProps, "OpticalBlank")
	canPowerOff := decode.VariantBool(driveProps, "CanPowerOff")

	_, isLoop := objs[blockPath][ifaceLoop]
	var backingFile *string
	if bf, ok := decode.LoopBackingFile(objs[blockPath][ifaceLoop]); ok && bf != "" {
		backingFile = &bf
	}

	bus := classifyBus(driveProps)

	var rate *int
	if rpm, ok := decode.VariantUint64(driveProps, "RotationRate"); ok {
		v := int(rpm)
		rate = &v
	}

	tableType, tableTypeKnown := decode.VariantString(objs[blockPath][ifacePartitionTable], "Type")
	ptType := model.TableAbsent
	if tableTypeKnown {
		switch tableType {
		case "gpt":
			ptType = model.TableGPT
		case "dos", "mbr":
			ptType = model.TableDOS
		default:
			ptType = model.TableUnknown
		}
	}

	return model.DiskInfo{
		DevicePath:      devicePath,
		ID:              string(drivePath),
		Model:           model_,
		Serial:          serial,
		Vendor:          vendor,
		Revision:        revision,
		Size:            size,
		ConnectionBus:   bus,
		RotationRateRPM: rate,
		Removable:       removable,
		Ejectable:       ejectable,
		MediaRemovable:  mediaRemovable,
		MediaAvailable:  mediaAvailable,
		Optical:         optical,
		OpticalBlank:    opticalBlank,
		CanPowerOff:     canPowerOff,
		IsLoop:          isLoop,
		BackingFile:     backingFile,
		TableType:       ptType,
	}
}

func classifyBus(driveProps map[string]dbus.Variant) model.ConnectionBus {
	conn, _ := decode.VariantString(driveProps, "ConnectionBus")
	switch strings.ToLower(conn) {
	case "usb":
		return model.BusUSB
	case "ata":
		return model.BusATA
	case "nvme":
		return model.BusNVMe
	case "sdio", "mmc":
		return model.BusMMC
	default:
		return model.BusATA
	}
}

// buildPartitions walks a partition table's child Partition objects, sorted
// by partition number.
func buildPartitions(objs RawObjects, tableBlockPath dbus.ObjectPath, parentDevicePath string) []model.PartitionInfo {
	type candidate struct {
		path   dbus.ObjectPath
		number int
	}
	var cands []candidate
	for p, ifaces := range objs {
		part, ok := ifaces[ifacePartition]
		if !ok {
			continue
		}
		table, _ := decode.VariantString(part, "Table")
		if dbus.ObjectPath(table) != tableBlockPath {
			continue
		}
		num, _ := decode.VariantUint64(part, "Number")
		cands = append(cands, candidate{p, int(num)})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].number < cands[j].number })

	out := make([]model.PartitionInfo, 0, len(cands))
	for _, cand := range cands {
		out = append(out, buildPartitionInfo(objs, cand.path, parentDevicePath))
	}
	return out
}

func buildPartitionInfo(objs RawObjects, partPath dbus.ObjectPath, parentDevicePath string) model.PartitionInfo {
	partProps := objs[partPath][ifacePartition]
	blockProps := objs[partPath][ifaceBlock]
	fsProps, hasFS := objs[partPath][ifaceFilesystem]

	device, _ := decode.VariantString(blockProps, "Device")
	number, _ := decode.VariantUint64(partProps, "Number")
	offset, _ := decode.VariantUint64(partProps, "Offset")
	size, _ := decode.VariantUint64(partProps, "Size")
	typeID, _ := decode.VariantString(partProps, "Type")
	name, _ := decode.VariantString(partProps, "Name")
	uuid, _ := decode.VariantString(partProps, "UUID")
	flags, _ := decode.VariantUint64(partProps, "Flags")
	idType, _ := decode.VariantString(blockProps, "IdType")

	var mountPoints []string
	if hasFS {
		if mp, ok := fsProps["MountPoints"]; ok {
			if raw, ok := mp.Value().([][]byte); ok {
				for _, b := range raw {
					if s, ok := decode.NulString(b); ok {
						mountPoints = append(mountPoints, s)
					}
				}
			}
		}
	}

	return model.PartitionInfo{
		DevicePath:     device,
		Number:         int(number),
		ParentDrive:    parentDevicePath,
		Offset:         offset,
		Size:           size,
		TypeID:         typeID,
		Name:           name,
		UUID:           uuid,
		Flags:          flags,
		HasFilesystem:  hasFS,
		FilesystemType: idType,
		MountPoints:    mountPoints,
	}
}

// classifyBlockVolume recursively classifies a block object (and whatever it
// contains) into a VolumeInfo tree node.
func classifyBlockVolume(objs RawObjects, blockPath dbus.ObjectPath, parentDevicePath string) *model.VolumeInfo {
	blockProps := objs[blockPath][ifaceBlock]
	device, _ := decode.VariantString(blockProps, "Device")
	idType, _ := decode.VariantString(blockProps, "IdType")
	idLabel, _ := decode.VariantString(blockProps, "IdLabel")
	size, _ := decode.VariantUint64(blockProps, "Size")

	if tableType, ok := decode.VariantString(objs[blockPath][ifacePartitionTable], "Type"); ok && tableType != "" {
		root := &model.VolumeInfo{
			Kind:        model.VolumeBlock,
			Label:       idLabel,
			Size:        size,
			DevicePath:  device,
			ParentDrive: parentDevicePath,
		}
		root.Children = buildPartitionVolumes(objs, blockPath, device)
		return root
	}

	if _, encrypted := objs[blockPath][ifaceEncrypted]; encrypted {
		node := &model.VolumeInfo{
			Kind:        model.VolumeCryptoContainer,
			Label:       idLabel,
			Size:        size,
			DevicePath:  device,
			ParentDrive: parentDevicePath,
			Locked:      true,
		}
		if clear, ok := findCleartextChild(objs, blockPath); ok {
			node.Locked = false
			child := classifyBlockVolume(objs, clear, parentDevicePath)
			if child != nil {
				node.Children = []*model.VolumeInfo{child}
			}
		}
		return node
	}

	if _, hasPV := objs[blockPath][ifacePhysicalVolume]; hasPV {
		node := &model.VolumeInfo{
			Kind:        model.VolumeLvmPhysicalVolume,
			Label:       idLabel,
			Size:        size,
			DevicePath:  device,
			ParentDrive: parentDevicePath,
		}
		node.Children = findLogicalVolumesFor(objs, blockPath)
		return node
	}

	fsProps, hasFS := objs[blockPath][ifaceFilesystem]
	var mountPoints []string
	if hasFS {
		if mp, ok := fsProps["MountPoints"]; ok {
			if raw, ok := mp.Value().([][]byte); ok {
				for _, b := range raw {
					if s, ok := decode.NulString(b); ok {
						mountPoints = append(mountPoints, s)
					}
				}
			}
		}
	}

	return &model.VolumeInfo{
		Kind:           model.VolumeFilesystem,
		Label:          idLabel,
		Size:           size,
		FilesystemType: idType,
		DevicePath:     device,
		ParentDrive:    parentDevicePath,
		HasFilesystem:  hasFS,
		MountPoints:    mountPoints,
	}
}

func buildPartitionVolumes(objs RawObjects, tableBlockPath dbus.ObjectPath, parentDevicePath string) []*model.VolumeInfo {
	type candidate struct {
		path   dbus.ObjectPath
		number int
	}
	var cands []candidate
	for p, ifaces := range objs {
		part, ok := ifaces[ifacePartition]
		if !ok {
			continue
		}
		table, _ := decode.VariantString(part, "Table")
		if dbus.ObjectPath(table) != tableBlockPath {
			continue
		}
		num, _ := decode.VariantUint64(part, "Number")
		cands = append(cands, candidate{p, int(num)})
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].number < cands[j].number })

	out := make([]*model.VolumeInfo, 0, len(cands))
	for _, cand := range cands {
		node := classifyBlockVolume(objs, cand.path, parentDevicePath)
		if node != nil {
			node.Kind = model.VolumePartition
			out = append(out, node)
		}
	}
	return out
}

// findCleartextChild locates the unlocked mapper device for an Encrypted
// container, by scanning for a Block object whose CryptoBackingDevice
// property points back at containerPath.
func findCleartextChild(objs RawObjects, containerPath dbus.ObjectPath) (dbus.ObjectPath, bool) {
	for p, ifaces := range objs {
		block, ok := ifaces[ifaceBlock]
		if !ok {
			continue
		}
		backing, _ := decode.VariantString(block, "CryptoBackingDevice")
		if dbus.ObjectPath(backing) == containerPath {
			return p, true
		}
	}
	return "", false
}

// findLogicalVolumesFor resolves the logical volumes backed by the given PV
// block object, via the PV's VolumeGroup membership.
func findLogicalVolumesFor(objs RawObjects, pvBlockPath dbus.ObjectPath) []*model.VolumeInfo {
	vg, ok := decode.VariantString(objs[pvBlockPath][ifacePhysicalVolume], "VolumeGroup")
	if !ok || vg == "" {
		return nil
	}

	var out []*model.VolumeInfo
	for p, ifaces := range objs {
		lv, ok := ifaces[ifaceLogicalVolume]
		if !ok {
			continue
		}
		lvVG, _ := decode.VariantString(lv, "VolumeGroup")
		if dbus.ObjectPath(lvVG) != dbus.ObjectPath(vg) {
			continue
		}
		blockPath, hasBlock := decode.VariantString(lv, "BlockDevice")
		if !hasBlock || blockPath == "" {
			continue
		}
		node := classifyBlockVolume(objs, dbus.ObjectPath(blockPath), "")
		if node != nil {
			node.Kind = model.VolumeLvmLogicalVolume
			out = append(out, node)
		}
		_ = p
	}
	return out
}

func sortDisks(disks []model.DiskInfo) {
	sort.Slice(disks, func(i, j int) bool { return diskLess(disks[i], disks[j]) })
}

// diskLess orders fixed disks before removable, then by device path
// descending within each group (§4.4).
func diskLess(a, b model.DiskInfo) bool {
	if a.Removable != b.Removable {
		return !a.Removable
	}
	return a.DevicePath > b.DevicePath
}
