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

// Package logical is the LVM/MD-RAID/BTRFS logical-storage controller
// (§4.7): inventory via vgs/lvs/pvs, mdadm, and btrfs, plus the mutating
// shell-outs each of those tools exposes.
package logical

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cosmic-utils/storage-serviced/internal/model"
	"github.com/cosmic-utils/storage-serviced/internal/toolexec"
)

// VolumeGroup mirrors one vgs row (name, uuid, size, free, pv_count,
// lv_count).
type VolumeGroup struct {
	Name    string
	UUID    string
	Size    uint64
	Free    uint64
	PVCount uint32
	LVCount uint32
}

// LogicalVolume mirrors one lvs row (lv_name, vg_name, lv_uuid, lv_size,
// lv_path, lv_active).
type LogicalVolume struct {
	Name       string
	VGName     string
	UUID       string
	Size       uint64
	DevicePath string
	Active     bool
}

// PhysicalVolume mirrors one pvs row (pv_name, vg_name, pv_size, pv_free).
type PhysicalVolume struct {
	Device string
	VGName string // empty when the PV is not yet a member of any VG
	Size   uint64
	Free   uint64
}

// Controller issues lvm2/mdadm/btrfs-progs invocations through the shared
// tool executor.
type Controller struct {
	Runner toolexec.Runner
}

func NewController(runner toolexec.Runner) *Controller {
	return &Controller{Runner: runner}
}

// tabFields splits a tab-separated vgs/lvs/pvs row into trimmed fields
// padded (by returning "" for missing indices) so callers can index past
// the end without bounds-checking every access, mirroring the original's
// unwrap_or("0")/unwrap_or("") fallback chain per field.
func tabFields(line string, want int) []string {
	parts := strings.Split(line, "\t")
	out := make([]string, want)
	for i := 0; i < want && i < len(parts); i++ {
		out[i] = strings.TrimSpace(parts[i])
	}
	return out
}

func parseUint(s string) uint64 {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// ListVolumeGroups runs `vgs --noheadings --units b --nosuffix -o
// vg_name,vg_uuid,vg_size,vg_free,pv_count,lv_count --separator '\t'`.
func (c *Controller) ListVolumeGroups(ctx context.Context) ([]VolumeGroup, error) {
	out, err := toolexec.Exec(ctx, c.Runner, "vgs",
		"--noheadings", "--units", "b", "--nosuffix",
		"-o", "vg_name,vg_uuid,vg_size,vg_free,pv_count,lv_count",
		"--separator", "\t")
	if err != nil {
		return nil, err
	}

	var vgs []VolumeGroup
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		f := tabFields(line, 6)
		if f[0] == "" {
			continue
		}
		vgs = append(vgs, VolumeGroup{
			Name:    f[0],
			UUID:    f[1],
			Size:    parseUint(f[2]),
			Free:    parseUint(f[3]),
			PVCount: uint32(parseUint(f[4])),
			LVCount: uint32(parseUint(f[5])),
		})
	}
	return vgs, nil
}

// ListLogicalVolumes runs `lvs --noheadings --units b --nosuffix -o
// lv_name,vg_name,lv_uuid,lv_size,lv_path,lv_active --separator '\t'`.
func (c *Controller) ListLogicalVolumes(ctx context.Context) ([]LogicalVolume, error) {
	out, err := toolexec.Exec(ctx, c.Runner, "lvs",
		"--noheadings", "--units", "b", "--nosuffix",
		"-o", "lv_name,vg_name,lv_uuid,lv_size,lv_path,lv_active",
		"--separator", "\t")
	if err != nil {
		return nil, err
	}

	var lvs []LogicalVolume
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		f := tabFields(line, 6)
		if f[0] == "" {
			continue
		}
		lvs = append(lvs, LogicalVolume{
			Name:       f[0],
			VGName:     f[1],
			UUID:       f[2],
			Size:       parseUint(f[3]),
			DevicePath: f[4],
			Active:     f[5] == "active",
		})
	}
	return lvs, nil
}

// ListPhysicalVolumes runs `pvs --noheadings --units b --nosuffix -o
// pv_name,vg_name,pv_size,pv_free --separator '\t'`.
func (c *Controller) ListPhysicalVolumes(ctx context.Context) ([]PhysicalVolume, error) {
	out, err := toolexec.Exec(ctx, c.Runner, "pvs",
		"--noheadings", "--units", "b", "--nosuffix",
		"-o", "pv_name,vg_name,pv_size,pv_free",
		"--separator", "\t")
	if err != nil {
		return nil, err
	}

	var pvs []PhysicalVolume
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		f := tabFields(line, 4)
		if f[0] == "" {
			continue
		}
		pvs = append(pvs, PhysicalVolume{
			Device: f[0],
			VGName: f[1],
			Size:   parseUint(f[2]),
			Free:   parseUint(f[3]),
		})
	}
	return pvs, nil
}

// CreateVolumeGroup runs `vgcreate --yes <vg> <devs...>`.
func (c *Controller) CreateVolumeGroup(ctx context.Context, vgName string, devices []string) error {
	if len(devices) == 0 {
		return model.NewError(model.KindInvalidArgument, "at least one device required")
	}
	args := append([]string{"--yes", vgName}, devices...)
	_, err := toolexec.Exec(ctx, c.Runner, "vgcreate", args...)
	return err
}

// DeleteVolumeGroup runs `vgremove -f <vg>`.
func (c *Controller) DeleteVolumeGroup(ctx context.Context, vgName string) error {
	_, err := toolexec.Exec(ctx, c.Runner, "vgremove", "-f", vgName)
	return err
}

// AddPhysicalVolume runs `vgextend <vg> <dev>`.
func (c *Controller) AddPhysicalVolume(ctx context.Context, vgName, device string) error {
	_, err := toolexec.Exec(ctx, c.Runner, "vgextend", vgName, device)
	return err
}

// RemovePhysicalVolume runs `vgreduce <vg> <dev>`.
func (c *Controller) RemovePhysicalVolume(ctx context.Context, vgName, device string) error {
	_, err := toolexec.Exec(ctx, c.Runner, "vgreduce", vgName, device)
	return err
}

// CreateLogicalVolume runs `lvcreate -L <bytes>B -y -Zn -n <lv> <vg>` and
// returns the resulting device path.
func (c *Controller) CreateLogicalVolume(ctx context.Context, vgName, lvName string, sizeBytes uint64) (string, error) {
	sizeArg := fmt.Sprintf("%dB", sizeBytes)
	_, err := toolexec.Exec(ctx, c.Runner, "lvcreate", "-L", sizeArg, "-y", "-Zn", "-n", lvName, vgName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("/dev/%s/%s", vgName, lvName), nil
}

// DeleteLogicalVolume runs `lvremove -f <lvPath>`.
func (c *Controller) DeleteLogicalVolume(ctx context.Context, lvPath string) error {
	_, err := toolexec.Exec(ctx, c.Runner, "lvremove", "-f", lvPath)
	return err
}

// ResizeLogicalVolume runs `lvresize -L <bytes>B <lvPath>`.
func (c *Controller) ResizeLogicalVolume(ctx context.Context, lvPath string, newSizeBytes uint64) error {
	sizeArg := fmt.Sprintf("%dB", newSizeBytes)
	_, err := toolexec.Exec(ctx, c.Runner, "lvresize", "-L", sizeArg, lvPath)
	return err
}

// ActivateLogicalVolume runs `lvchange -ay <lvPath>` (or `-an` to
// deactivate).
func (c *Controller) ActivateLogicalVolume(ctx context.Context, lvPath string, active bool) error {
	flag := "-an"
	if active {
		flag = "-ay"
	}
	_, err := toolexec.Exec(ctx, c.Runner, "lvchange", flag, lvPath)
	return err
}

// CreateRAIDArray runs `mdadm --create --force --run <array> --level <L>
// --metadata=0.90 --raid-devices <N> <devs...>`.
func (c *Controller) CreateRAIDArray(ctx context.Context, arrayName, level string, devices []string) error {
	if len(devices) == 0 {
		return model.NewError(model.KindInvalidArgument, "at least one device required")
	}
	args := []string{
		"--create", "--force", "--run", arrayName,
		"--level", level,
		"--metadata=0.90",
		"--raid-devices", strconv.Itoa(len(devices)),
	}
	args = append(args, devices...)
	_, err := toolexec.Exec(ctx, c.Runner, "mdadm", args...)
	return err
}

// StopRAIDArray runs `mdadm --stop <array>`.
func (c *Controller) StopRAIDArray(ctx context.Context, arrayName string) error {
	_, err := toolexec.Exec(ctx, c.Runner, "mdadm", "--stop", arrayName)
	return err
}

// AssembleRAIDArray runs `mdadm --assemble <array> <devs...>`.
func (c *Controller) AssembleRAIDArray(ctx context.Context, arrayName string, devices []string) error {
	args := append([]string{"--assemble", arrayName}, devices...)
	_, err := toolexec.Exec(ctx, c.Runner, "mdadm", args...)
	return err
}

// AddRAIDMember runs `mdadm <array> --add <dev>`.
func (c *Controller) AddRAIDMember(ctx context.Context, arrayName, device string) error {
	_, err := toolexec.Exec(ctx, c.Runner, "mdadm", arrayName, "--add", device)
	return err
}

// RemoveRAIDMember runs `mdadm <array> --remove <dev>`.
func (c *Controller) RemoveRAIDMember(ctx context.Context, arrayName, device string) error {
	_, err := toolexec.Exec(ctx, c.Runner, "mdadm", arrayName, "--remove", device)
	return err
}

// AddBTRFSDevice runs `btrfs device add <dev> <mountpoint>`.
func (c *Controller) AddBTRFSDevice(ctx context.Context, device, mountPoint string) error {
	_, err := toolexec.Exec(ctx, c.Runner, "btrfs", "device", "add", device, mountPoint)
	return err
}

// RemoveBTRFSDevice runs `btrfs device remove <dev> <mountpoint>`.
func (c *Controller) RemoveBTRFSDevice(ctx context.Context, device, mountPoint string) error {
	_, err := toolexec.Exec(ctx, c.Runner, "btrfs", "device", "remove", device, mountPoint)
	return err
}

// ResizeBTRFS runs `btrfs filesystem resize <size> <mountpoint>`; size may
// be an absolute byte count or a relative form like "+10G"/"max".
func (c *Controller) ResizeBTRFS(ctx context.Context, mountPoint, size string) error {
	_, err := toolexec.Exec(ctx, c.Runner, "btrfs", "filesystem", "resize", size, mountPoint)
	return err
}

// LabelBTRFS runs `btrfs filesystem label <mountpoint> <label>`.
func (c *Controller) LabelBTRFS(ctx context.Context, mountPoint, label string) error {
	_, err := toolexec.Exec(ctx, c.Runner, "btrfs", "filesystem", "label", mountPoint, label)
	return err
}

// SetDefaultBTRFSSubvolume runs `btrfs subvolume set-default <id>
// <mountpoint>`.
func (c *Controller) SetDefaultBTRFSSubvolume(ctx context.Context, mountPoint string, subvolID uint64) error {
	_, err := toolexec.Exec(ctx, c.Runner, "btrfs", "subvolume", "set-default", strconv.FormatUint(subvolID, 10), mountPoint)
	return err
}

// capabilitiesFor returns the static capability set for a LogicalEntityKind,
// used when synthesizing model.LogicalEntity records from the inventory
// above (§4.7).
func capabilitiesFor(kind model.LogicalEntityKind) []model.LogicalCapability {
	switch kind {
	case model.LogicalLvmVG:
		return []model.LogicalCapability{model.CapDelete, model.CapAddMember, model.CapRemoveMember}
	case model.LogicalLvmLV:
		return []model.LogicalCapability{model.CapDelete, model.CapResize, model.CapActivate, model.CapDeactivate}
	case model.LogicalLvmPV:
		return nil
	case model.LogicalMdArray:
		return []model.LogicalCapability{model.CapStart, model.CapStop, model.CapAddMember, model.CapRemoveMember}
	case model.LogicalBtrfs:
		return []model.LogicalCapability{model.CapAddMember, model.CapRemoveMember, model.CapResize, model.CapSetLabel, model.CapSetDefaultSubvol}
	default:
		return nil
	}
}

// ToEntities converts one ListVolumeGroups/ListLogicalVolumes/
// ListPhysicalVolumes snapshot into the broker-facing LogicalEntity records.
func ToEntities(vgs []VolumeGroup, lvs []LogicalVolume, pvs []PhysicalVolume) []model.LogicalEntity {
	out := make([]model.LogicalEntity, 0, len(vgs)+len(lvs)+len(pvs))
	for _, vg := range vgs {
		free := vg.Free
		out = append(out, model.LogicalEntity{
			ID:           "vg:" + vg.Name,
			Kind:         model.LogicalLvmVG,
			Name:         vg.Name,
			UUID:         vg.UUID,
			Size:         vg.Size,
			FreeBytes:    &free,
			Capabilities: capabilitiesFor(model.LogicalLvmVG),
		})
	}
	for _, lv := range lvs {
		health := "inactive"
		if lv.Active {
			health = "active"
		}
		out = append(out, model.LogicalEntity{
			ID:           "lv:" + lv.VGName + "/" + lv.Name,
			Kind:         model.LogicalLvmLV,
			Name:         lv.Name,
			UUID:         lv.UUID,
			ParentID:     "vg:" + lv.VGName,
			DevicePath:   lv.DevicePath,
			Size:         lv.Size,
			Health:       health,
			Capabilities: capabilitiesFor(model.LogicalLvmLV),
		})
	}
	for _, pv := range pvs {
		parent := ""
		if pv.VGName != "" {
			parent = "vg:" + pv.VGName
		}
		free := pv.Free
		out = append(out, model.LogicalEntity{
			ID:           "pv:" + pv.Device,
			Kind:         model.LogicalLvmPV,
			Name:         pv.Device,
			ParentID:     parent,
			DevicePath:   pv.Device,
			Size:         pv.Size,
			FreeBytes:    &free,
			Capabilities: capabilitiesFor(model.LogicalLvmPV),
		})
	}
	return out
}
