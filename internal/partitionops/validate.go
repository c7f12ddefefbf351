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
	"github.com/cosmic-utils/storage-serviced/internal/model"
)

// known GPT partition-type GUIDs and DOS hex type codes the broker accepts.
// Not exhaustive; covers the types the discovery engine itself reports.
var knownGPTTypes = map[string]bool{
	"0fc63daf-8483-4772-8e79-3d69d8477de4": true, // Linux filesystem
	"e6d6d379-f507-44c2-a23c-238f2a3df928": true, // Linux LVM
	"c12a7328-f81f-11d2-ba4b-00a0c93ec93b": true, // EFI system
	"0657fd6d-a4ab-43c4-84e5-0933c84b4f4f": true, // Linux swap
	"ebd0a0a2-b9e5-4433-87c0-68b6b72699c7": true, // Microsoft basic data
}

var knownDOSTypes = map[string]bool{
	"83": true, // Linux
	"82": true, // Linux swap
	"8e": true, // Linux LVM
	"07": true, // NTFS/exFAT
	"0c": true, // FAT32 LBA
}

// CreatePartitionAndFormatRequest is the validated input to
// CreatePartitionAndFormat (§4.5).
type CreatePartitionAndFormatRequest struct {
	DriveDevicePath string
	TableType       model.PartitionTableType
	Offset          uint64
	Size            uint64 // 0 means "maximum available after alignment"
	TypeID          string
	Name            string
	FilesystemType  string
	Erase           bool
	Label           string
	Usable          *model.ByteRange // required when TableType == gpt
}

// FormatOptions is the provider-facing options map produced from a request's
// erase/label fields.
type FormatOptions map[string]string

// Validate checks req against the rules in §4.5 and returns the normalized
// create-options and format-options maps the provider call expects.
func (req CreatePartitionAndFormatRequest) Validate() (createOpts map[string]string, formatOpts FormatOptions, err error) {
	switch req.TableType {
	case model.TableDOS:
		if req.Offset < 1024*1024 {
			return nil, nil, model.NewError(model.KindInvalidArgument, "offset inside reserved DOS/MBR start region")
		}
		if !knownDOSTypes[req.TypeID] {
			return nil, nil, model.NewError(model.KindInvalidArgument, "unknown dos partition type %q", req.TypeID)
		}
	case model.TableGPT:
		if req.Usable == nil {
			return nil, nil, model.NewError(model.KindInvalidArgument, "gpt usable range is required")
		}
		if req.Offset < req.Usable.Start || req.Offset >= req.Usable.End {
			return nil, nil, model.NewError(model.KindInvalidArgument, "offset %d is outside the usable range [%d, %d)", req.Offset, req.Usable.Start, req.Usable.End)
		}
		if req.Size != 0 && req.Offset+req.Size > req.Usable.End {
			return nil, nil, model.NewError(model.KindInvalidArgument, "partition would end at %d, past usable end %d", req.Offset+req.Size, req.Usable.End)
		}
		if !knownGPTTypes[req.TypeID] {
			return nil, nil, model.NewError(model.KindInvalidArgument, "unknown gpt partition type %q", req.TypeID)
		}
	default:
		return nil, nil, model.NewError(model.KindInvalidArgument, "unsupported partition table type %q", req.TableType)
	}

	createOpts = map[string]string{"partition-type": req.TypeID}
	name := req.Name
	if req.TableType == model.TableDOS {
		// dos has no partition name field; the kind is always primary.
		name = ""
		createOpts["partition-kind"] = "primary"
	}
	if name != "" {
		createOpts["partition-name"] = name
	}

	formatOpts = FormatOptions{}
	if req.Erase {
		formatOpts["erase"] = "zero"
	}
	if req.Label != "" {
		formatOpts["label"] = req.Label
	}

	return createOpts, formatOpts, nil
}
