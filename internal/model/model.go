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

// Package model holds the data-model structs carried across the D-Bus
// boundary as JSON (§3 of the specification), plus the shared error kinds
// every controller and the broker use.
package model

import "github.com/cosmic-utils/storage-serviced/internal/quantity"

// ConnectionBus identifies how a drive is attached.
type ConnectionBus string

const (
	BusATA     ConnectionBus = "ata"
	BusUSB     ConnectionBus = "usb"
	BusNVMe    ConnectionBus = "nvme"
	BusMMC     ConnectionBus = "mmc"
	BusOptical ConnectionBus = "optical"
	BusLoop    ConnectionBus = "loop"
)

// PartitionTableType identifies the on-disk partition table format.
type PartitionTableType string

const (
	TableGPT     PartitionTableType = "gpt"
	TableDOS     PartitionTableType = "dos"
	TableAbsent  PartitionTableType = "absent"
	TableUnknown PartitionTableType = "unknown"
)

// ByteRange is a half-open byte range [Start, End).
type ByteRange struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

func (r ByteRange) Size() uint64 { return r.End - r.Start }

// DiskInfo describes a physical or virtual whole-disk block device.
type DiskInfo struct {
	DevicePath       string             `json:"device_path"`
	ID               string             `json:"id"`
	Model            string             `json:"model"`
	Serial           string             `json:"serial"`
	Vendor           string             `json:"vendor"`
	Revision         string             `json:"revision"`
	Size             uint64             `json:"size"`
	ConnectionBus    ConnectionBus      `json:"connection_bus"`
	RotationRateRPM  *int               `json:"rotation_rate_rpm,omitempty"`
	Removable        bool               `json:"removable"`
	Ejectable        bool               `json:"ejectable"`
	MediaRemovable   bool               `json:"media_removable"`
	MediaAvailable   bool               `json:"media_available"`
	Optical          bool               `json:"optical"`
	OpticalBlank     bool               `json:"optical_blank"`
	CanPowerOff      bool               `json:"can_power_off"`
	IsLoop           bool               `json:"is_loop"`
	BackingFile      *string            `json:"backing_file,omitempty"`
	TableType        PartitionTableType `json:"table_type,omitempty"`
	GPTUsableRange   *ByteRange         `json:"gpt_usable_range,omitempty"`
}

// PartitionInfo describes one extent within a drive's partition table.
type PartitionInfo struct {
	DevicePath    string             `json:"device_path"`
	Number        int                `json:"number"`
	ParentDrive   string             `json:"parent_drive"`
	Offset        uint64             `json:"offset"`
	Size          uint64             `json:"size"`
	TypeID        string             `json:"type_id"`
	TypeName      string             `json:"type_name"`
	Flags         uint64             `json:"flags"`
	Name          string             `json:"name"`
	UUID          string             `json:"uuid"`
	TableType     PartitionTableType `json:"table_type"`
	HasFilesystem bool               `json:"has_filesystem"`
	FilesystemType string            `json:"filesystem_type,omitempty"`
	MountPoints   []string           `json:"mount_points,omitempty"`
	Usage         *UsageInfo         `json:"usage,omitempty"`
}

// UsageInfo is optional used/total byte accounting for a mounted filesystem.
type UsageInfo struct {
	UsedBytes  uint64 `json:"used_bytes"`
	TotalBytes uint64 `json:"total_bytes"`
}

// VolumeKind discriminates VolumeInfo's tagged-variant shape (§9: a single
// struct with a Kind field, not an interface hierarchy, so the over-the-wire
// JSON payload has one concrete shape).
type VolumeKind string

const (
	VolumePartition        VolumeKind = "partition"
	VolumeCryptoContainer   VolumeKind = "crypto_container"
	VolumeFilesystem        VolumeKind = "filesystem"
	VolumeLvmPhysicalVolume VolumeKind = "lvm_physical_volume"
	VolumeLvmLogicalVolume  VolumeKind = "lvm_logical_volume"
	VolumeBlock             VolumeKind = "block"
)

// VolumeInfo is a node in the discovery engine's volume tree.
type VolumeInfo struct {
	Kind           VolumeKind    `json:"kind"`
	Label          string        `json:"label"`
	Size           uint64        `json:"size"`
	FilesystemType string        `json:"filesystem_type,omitempty"`
	DevicePath     string        `json:"device_path"`
	ParentDrive    string        `json:"parent_drive,omitempty"`
	HasFilesystem  bool          `json:"has_filesystem"`
	MountPoints    []string      `json:"mount_points,omitempty"`
	Usage          *UsageInfo    `json:"usage,omitempty"`
	Locked         bool          `json:"locked"`
	Children       []*VolumeInfo `json:"children,omitempty"`
}

// CanMount, CanUnlock, CanLock are total functions over the tag and flags, per
// §9's design note: capability predicates dispatch on Kind, never on dynamic
// type.
func (v *VolumeInfo) CanMount() bool {
	switch v.Kind {
	case VolumeFilesystem, VolumePartition, VolumeLvmLogicalVolume:
		return v.HasFilesystem && !v.Locked
	default:
		return false
	}
}

func (v *VolumeInfo) CanUnlock() bool {
	return v.Kind == VolumeCryptoContainer && v.Locked
}

func (v *VolumeInfo) CanLock() bool {
	return v.Kind == VolumeCryptoContainer && !v.Locked
}

// SegmentKind discriminates DiskSegment.
type SegmentKind string

const (
	SegmentPartition SegmentKind = "partition"
	SegmentFreeSpace SegmentKind = "free_space"
	SegmentReserved  SegmentKind = "reserved"
)

// DiskSegment is a contiguous byte range on a drive (§4.3).
type DiskSegment struct {
	Kind          SegmentKind `json:"kind"`
	PartitionPath string      `json:"partition_path,omitempty"`
	Offset        uint64      `json:"offset"`
	Size          uint64      `json:"size"`
	Weight        int         `json:"weight"`
}

// LogicalEntityKind discriminates LogicalEntity.
type LogicalEntityKind string

const (
	LogicalLvmVG   LogicalEntityKind = "lvm_vg"
	LogicalLvmLV   LogicalEntityKind = "lvm_lv"
	LogicalLvmPV   LogicalEntityKind = "lvm_pv"
	LogicalMdArray LogicalEntityKind = "md_array"
	LogicalBtrfs   LogicalEntityKind = "btrfs_fs"
)

// LogicalCapability is one operation a LogicalEntity currently supports.
type LogicalCapability string

const (
	CapCreate           LogicalCapability = "create"
	CapDelete           LogicalCapability = "delete"
	CapResize           LogicalCapability = "resize"
	CapAddMember        LogicalCapability = "add_member"
	CapRemoveMember     LogicalCapability = "remove_member"
	CapActivate         LogicalCapability = "activate"
	CapDeactivate       LogicalCapability = "deactivate"
	CapStart            LogicalCapability = "start"
	CapStop             LogicalCapability = "stop"
	CapCheck            LogicalCapability = "check"
	CapRepair           LogicalCapability = "repair"
	CapSetLabel         LogicalCapability = "set_label"
	CapSetDefaultSubvol LogicalCapability = "set_default_subvolume"
)

// LogicalEntity is an LVM, MD-RAID, or BTRFS object outside the partition
// hierarchy (§3, §4.7).
type LogicalEntity struct {
	ID           string              `json:"id"`
	Kind         LogicalEntityKind   `json:"kind"`
	Name         string              `json:"name"`
	UUID         string              `json:"uuid,omitempty"`
	ParentID     string              `json:"parent_id,omitempty"`
	DevicePath   string              `json:"device_path,omitempty"`
	Size         uint64              `json:"size"`
	UsedBytes    *uint64             `json:"used_bytes,omitempty"`
	FreeBytes    *uint64             `json:"free_bytes,omitempty"`
	Health       string              `json:"health,omitempty"`
	Progress     *float64            `json:"progress,omitempty"`
	Members      []string            `json:"members,omitempty"`
	Capabilities []LogicalCapability `json:"capabilities,omitempty"`
	Metadata     map[string]string   `json:"metadata,omitempty"`
}

// RemoteScope distinguishes per-user from system-wide RClone configuration.
type RemoteScope string

const (
	ScopeUser   RemoteScope = "user"
	ScopeSystem RemoteScope = "system"
)

// RemoteConfig is an RClone mount target (§3, §4.8).
type RemoteConfig struct {
	Name       string            `json:"name"`
	RemoteType string            `json:"remote_type"`
	Scope      RemoteScope       `json:"scope"`
	Options    map[string]string `json:"options"`
	HasSecrets bool              `json:"has_secrets"`
}

// MountStatus is one state of the per-remote mount state machine (§3).
type MountStatus string

const (
	StatusUnmounted  MountStatus = "unmounted"
	StatusMounting   MountStatus = "mounting"
	StatusMounted    MountStatus = "mounted"
	StatusUnmounting MountStatus = "unmounting"
	StatusError      MountStatus = "error"
)

// MountState is the broker-owned state for one (name, scope) key.
type MountState struct {
	Status     MountStatus `json:"status"`
	MountPoint string      `json:"mount_point,omitempty"`
	LastError  string      `json:"last_error,omitempty"`
}

// AuditRecord is one logged outcome of a completed mutating broker call
// (SPEC_FULL.md §3, §4.12). It is written for operator troubleshooting only
// and never participates in any invariant.
type AuditRecord struct {
	Sequence     uint64 `json:"sequence"`
	Timestamp    string `json:"timestamp"`
	ActionID     string `json:"action_id"`
	Target       string `json:"target"`
	CallerUID    uint32 `json:"caller_uid"`
	CallerName   string `json:"caller_name"`
	Outcome      string `json:"outcome"`
	DurationMS   int64  `json:"duration_ms"`
}

// CallerInfo is the identity the authorized broker resolves for every call
// (§4.9).
type CallerInfo struct {
	UID      uint32
	Username string
	Sender   string
}

// ParseSize is re-exported so callers constructing model structs from JSON
// options maps can use the same byte-size convention as the config file.
var ParseSize = quantity.ParseSize
