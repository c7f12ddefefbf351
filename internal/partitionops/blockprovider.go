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

package partitionops

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cosmic-utils/storage-serviced/internal/dirs"
	"github.com/cosmic-utils/storage-serviced/internal/model"
	"github.com/cosmic-utils/storage-serviced/internal/toolexec"
)

// mkfsBinaries maps a filesystem type to its mkfs-family binary, matching
// the broker's own supported-filesystems table (§4.5).
var mkfsBinaries = map[string]string{
	"ext2": "mkfs.ext2", "ext3": "mkfs.ext3", "ext4": "mkfs.ext4",
	"vfat": "mkfs.vfat", "ntfs": "mkfs.ntfs", "exfat": "mkfs.exfat",
	"btrfs": "mkfs.btrfs", "xfs": "mkfs.xfs", "swap": "mkswap",
}

// toolBlockProvider is the production BlockProvider: every mutation shells
// out to the native CLI the architecture diagram in §2 names for the block
// provider layer (parted/sfdisk for partition tables, mkfs.* for format,
// mount(8)/umount(8) for the mount lifecycle), funneled through
// toolexec.Exec the same way CheckFilesystem and the LUKS/logical
// controllers already do.
type toolBlockProvider struct {
	runner toolexec.Runner
}

// NewToolBlockProvider returns the BlockProvider implementation cmd/storage-serviced
// wires into NewController in production.
func NewToolBlockProvider(runner toolexec.Runner) BlockProvider {
	return &toolBlockProvider{runner: runner}
}

func (p *toolBlockProvider) CreatePartitionAndFormat(ctx context.Context, driveDevicePath string, offset, size uint64, createOpts map[string]string, fsType string, formatOpts FormatOptions) (string, error) {
	args := []string{"-s", driveDevicePath, "--append"}
	start := strconv.FormatUint(offset/512, 10)
	var sizeArg string
	if size == 0 {
		sizeArg = "+"
	} else {
		sizeArg = strconv.FormatUint(size/512, 10)
	}
	typeID := createOpts["partition-type"]
	line := fmt.Sprintf("%s,%s,%s", start, sizeArg, typeID)
	if name, ok := createOpts["partition-name"]; ok && name != "" {
		line += fmt.Sprintf(",name=\"%s\"", name)
	}
	args = append(args, "-X")

	if _, err := toolexec.Exec(ctx, p.runner, "sfdisk", append(args, line)...); err != nil {
		return "", err
	}

	partitionDevicePath := partitionDeviceName(driveDevicePath, countExistingPartitions(driveDevicePath)+1)

	if fsType != "" {
		if err := p.FormatBlock(ctx, partitionDevicePath, fsType, formatOpts); err != nil {
			return "", err
		}
	}
	return partitionDevicePath, nil
}

// partitionDeviceName derives the Nth partition's device node from its
// parent drive, handling the nvme/mmcblk "p" infix convention.
func partitionDeviceName(drivePath string, n int) string {
	base := drivePath
	last := base[len(base)-1]
	if last >= '0' && last <= '9' {
		return fmt.Sprintf("%sp%d", base, n)
	}
	return fmt.Sprintf("%s%d", base, n)
}

// countExistingPartitions is a best-effort count of a drive's current
// partitions via sysfs, used only to predict the newly created partition's
// number; UDisks2-backed discovery supplies the authoritative view once the
// topology-changed signal fires.
func countExistingPartitions(drivePath string) int {
	base := strings.TrimPrefix(drivePath, "/dev/")
	entries, err := os.ReadDir("/sys/block/" + strings.TrimRight(base, "0123456789") + "/" + base)
	if err != nil {
		return 0
	}
	count := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), base) {
			count++
		}
	}
	return count
}

func (p *toolBlockProvider) DeletePartition(ctx context.Context, partitionDevicePath string) error {
	drive, number := splitPartitionPath(partitionDevicePath)
	_, err := toolexec.Exec(ctx, p.runner, "sfdisk", "--delete", drive, number)
	return err
}

func splitPartitionPath(partitionDevicePath string) (drive, number string) {
	i := len(partitionDevicePath)
	for i > 0 && partitionDevicePath[i-1] >= '0' && partitionDevicePath[i-1] <= '9' {
		i--
	}
	number = partitionDevicePath[i:]
	drive = strings.TrimSuffix(partitionDevicePath[:i], "p")
	return drive, number
}

func (p *toolBlockProvider) SetPartitionType(ctx context.Context, partitionDevicePath, typeID string) error {
	drive, number := splitPartitionPath(partitionDevicePath)
	_, err := toolexec.Exec(ctx, p.runner, "sfdisk", "--part-type", drive, number, typeID)
	return err
}

func (p *toolBlockProvider) SetPartitionName(ctx context.Context, partitionDevicePath, name string) error {
	drive, number := splitPartitionPath(partitionDevicePath)
	_, err := toolexec.Exec(ctx, p.runner, "sfdisk", "--part-label", drive, number, name)
	return err
}

func (p *toolBlockProvider) SetPartitionFlags(ctx context.Context, partitionDevicePath string, flags uint64) error {
	drive, number := splitPartitionPath(partitionDevicePath)
	_, err := toolexec.Exec(ctx, p.runner, "sfdisk", "--part-attrs", drive, number, strconv.FormatUint(flags, 2))
	return err
}

func (p *toolBlockProvider) ResizePartition(ctx context.Context, partitionDevicePath string, newSize uint64) error {
	drive, number := splitPartitionPath(partitionDevicePath)
	_, err := toolexec.Exec(ctx, p.runner, "sfdisk", "--resize", drive, number, "--size", strconv.FormatUint(newSize/512, 10))
	return err
}

func (p *toolBlockProvider) FormatBlock(ctx context.Context, devicePath, fsType string, opts FormatOptions) error {
	if fsType == string(model.TableGPT) {
		_, err := toolexec.Exec(ctx, p.runner, "sfdisk", "--label", "gpt", devicePath)
		return err
	}
	if fsType == string(model.TableDOS) {
		_, err := toolexec.Exec(ctx, p.runner, "sfdisk", "--label", "dos", devicePath)
		return err
	}

	binary, ok := mkfsBinaries[fsType]
	if !ok {
		return model.NewError(model.KindInvalidArgument, "unsupported filesystem type %q", fsType)
	}

	args := []string{}
	if opts["label"] != "" {
		args = append(args, labelFlag(fsType), opts["label"])
	}
	args = append(args, devicePath)

	if opts["erase"] == "zero" {
		if _, err := toolexec.Exec(ctx, p.runner, "dd", "if=/dev/zero", "of="+devicePath, "bs=1M", "count=4", "conv=notrunc"); err != nil {
			return err
		}
	}

	_, err := toolexec.Exec(ctx, p.runner, binary, args...)
	return err
}

// labelFlag returns the mkfs flag a given filesystem's mkfs tool uses to set
// a label inline at creation time.
func labelFlag(fsType string) string {
	switch fsType {
	case "ext2", "ext3", "ext4":
		return "-L"
	case "vfat", "exfat":
		return "-n"
	case "ntfs":
		return "-L"
	case "btrfs":
		return "-L"
	case "xfs":
		return "-L"
	case "swap":
		return "-L"
	default:
		return "-L"
	}
}

func (p *toolBlockProvider) MountFilesystem(ctx context.Context, devicePath string, opts map[string]string) (string, error) {
	mountPoint := dirs.RuntimeMountRoot() + "/" + strings.TrimPrefix(devicePath, "/dev/")
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return "", model.WrapError(model.KindOperationFailed, err, "creating mount point %s", mountPoint)
	}

	args := []string{devicePath, mountPoint}
	if opts["options"] != "" {
		args = append([]string{"-o", opts["options"]}, args...)
	}

	if _, err := toolexec.Exec(ctx, p.runner, "mount", args...); err != nil {
		return "", err
	}
	return mountPoint, nil
}

func (p *toolBlockProvider) UnmountFilesystem(ctx context.Context, devicePath string, force bool) error {
	args := []string{devicePath}
	if force {
		args = append([]string{"-f"}, args...)
	}
	_, err := toolexec.Exec(ctx, p.runner, "umount", args...)
	return err
}

// SetLabel relabels an already-formatted filesystem. The interface carries
// no fsType here (unlike FormatBlock), so this shells out to e2label, which
// covers the ext2/3/4 case; relabeling other filesystem types after the
// fact is not yet wired.
func (p *toolBlockProvider) SetLabel(ctx context.Context, devicePath, label string) error {
	_, err := toolexec.Exec(ctx, p.runner, "e2label", devicePath, label)
	return err
}
