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
	"encoding/json"

	"github.com/cosmic-utils/storage-serviced/internal/model"
	"github.com/cosmic-utils/storage-serviced/internal/partitionops"
)

// decodeFormatOptions parses the JSON options map documented in §6's
// format options table: {erase: "zero"|absent, label: <string>|absent}.
// An empty optionsJSON decodes to no options, not an error.
func decodeFormatOptions(optionsJSON string) (partitionops.FormatOptions, error) {
	opts := partitionops.FormatOptions{}
	if optionsJSON == "" {
		return opts, nil
	}
	var raw struct {
		Erase string `json:"erase"`
		Label string `json:"label"`
	}
	if err := json.Unmarshal([]byte(optionsJSON), &raw); err != nil {
		return nil, model.WrapError(model.KindInvalidArgument, err, "decoding format options")
	}
	if raw.Erase != "" {
		opts["erase"] = raw.Erase
	}
	if raw.Label != "" {
		opts["label"] = raw.Label
	}
	return opts, nil
}

// decodeUnmountOptions parses §6's unmount options table:
// {force: bool, kill_processes: bool}.
func decodeUnmountOptions(optionsJSON string) (force, killProcesses bool) {
	var raw struct {
		Force         bool `json:"force"`
		KillProcesses bool `json:"kill_processes"`
	}
	if optionsJSON != "" {
		_ = json.Unmarshal([]byte(optionsJSON), &raw)
	}
	return raw.Force, raw.KillProcesses
}

// decodeRepairOption parses §6's check options table: {repair: bool}.
func decodeRepairOption(optionsJSON string) bool {
	var raw struct {
		Repair bool `json:"repair"`
	}
	if optionsJSON != "" {
		_ = json.Unmarshal([]byte(optionsJSON), &raw)
	}
	return raw.Repair
}

// mountOptionsRequest is edit_mount_options's decoded argument.
type mountOptionsRequest struct {
	OtherOptions string
	ShowInUI     bool
	GvfsName     string
	GvfsIcon     string
}

// jsonMarshalString is a thin wrapper so read-only methods that build their
// own response struct don't each repeat the marshal-and-stringify pair.
func jsonMarshalString(v interface{}) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// decodeStringSlice decodes a JSON array of strings, used for every method
// that takes a device list (create_volume_group, create_raid_array, ...).
func decodeStringSlice(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, model.WrapError(model.KindInvalidArgument, err, "decoding string list")
	}
	return out, nil
}

func decodeMountOptionsRequest(optionsJSON string) mountOptionsRequest {
	var raw struct {
		OtherOptions string `json:"other_options"`
		ShowInUI     bool   `json:"show_in_ui"`
		GvfsName     string `json:"gvfs_name"`
		GvfsIcon     string `json:"gvfs_icon"`
	}
	if optionsJSON != "" {
		_ = json.Unmarshal([]byte(optionsJSON), &raw)
	}
	return mountOptionsRequest{raw.OtherOptions, raw.ShowInUI, raw.GvfsName, raw.GvfsIcon}
}
