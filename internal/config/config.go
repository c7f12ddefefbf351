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

// Package config loads the daemon's own YAML configuration file (§4.13).
package config

import (
	"os"

	"gopkg.in/yaml.v2"

	"github.com/cosmic-utils/storage-serviced/internal/model"
	"github.com/cosmic-utils/storage-serviced/internal/quantity"
)

// ToolPaths maps a tool name (e.g. "mkfs.ext4", "lvm", "mdadm", "btrfs",
// "cryptsetup", "rclone") to a binary path, read from the config file and
// returned by ToolPath. The tool executor does not consult it: external
// binaries are run by name and resolved through $PATH.
type ToolPaths map[string]string

// Config is the daemon's top-level configuration. Unknown keys are ignored
// by yaml.v2's default decode behavior, satisfying the forward-compatibility
// requirement without any extra bookkeeping.
type Config struct {
	BusName      string        `yaml:"bus_name"`
	ObjectPrefix string        `yaml:"object_prefix"`
	StateDir     string        `yaml:"state_dir"`
	DebugListen  string        `yaml:"debug_listen"`
	LogLevel     string        `yaml:"log_level"`
	ToolPaths    ToolPaths     `yaml:"tool_paths"`
	MaxImageSize quantity.Size `yaml:"max_image_size"`
}

// Default returns the built-in configuration applied when no file is
// present or a loaded file omits a field.
func Default() Config {
	return Config{
		BusName:      "org.cosmic.StorageServiced",
		ObjectPrefix: "/org/cosmic/StorageServiced",
		StateDir:     "/var/lib/storage-serviced",
		DebugListen:  "127.0.0.1:7771",
		LogLevel:     "info",
		ToolPaths:    ToolPaths{},
		MaxImageSize: 0,
	}
}

// Load reads path, overlaying any set fields onto Default(). A missing file
// is not an error — the built-in defaults apply unmodified (§4.13).
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, model.WrapError(model.KindOperationFailed, err, "reading config %s", path)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, model.WrapError(model.KindOperationFailed, err, "parsing config %s", path)
	}

	return cfg, nil
}

// ToolPath returns the configured override path for tool, or "" if none is
// set (the caller should then fall back to its built-in default / $PATH).
func (c Config) ToolPath(tool string) string {
	return c.ToolPaths[tool]
}
