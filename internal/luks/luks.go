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

// Package luks is the LUKS controller (§4.6): format, unlock, lock,
// change-passphrase, and crypttab-backed encryption-options editing for
// encrypted containers.
package luks

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/cosmic-utils/storage-serviced/internal/model"
	"github.com/cosmic-utils/storage-serviced/internal/toolexec"
)

// Version is the LUKS format version.
type Version string

const (
	LUKS1 Version = "luks1"
	LUKS2 Version = "luks2"
)

// Controller issues cryptsetup invocations through the shared tool executor.
type Controller struct {
	Runner toolexec.Runner
}

func NewController(runner toolexec.Runner) *Controller {
	return &Controller{Runner: runner}
}

// ListEncryptedDevices flattens the crypto-container nodes out of a
// discovery volume tree (§4.6).
func ListEncryptedDevices(volumes []*model.VolumeInfo) []*model.VolumeInfo {
	var out []*model.VolumeInfo
	var walk func(v *model.VolumeInfo)
	walk = func(v *model.VolumeInfo) {
		if v == nil {
			return
		}
		if v.Kind == model.VolumeCryptoContainer {
			out = append(out, v)
		}
		for _, child := range v.Children {
			walk(child)
		}
	}
	for _, v := range volumes {
		walk(v)
	}
	return out
}

// Format LUKS-formats device with passphrase, defaulting to luks2 and
// rejecting any version other than luks1/luks2.
func (c *Controller) Format(ctx context.Context, device, passphrase string, version Version) error {
	if version == "" {
		version = LUKS2
	}
	if version != LUKS1 && version != LUKS2 {
		return model.NewError(model.KindInvalidArgument, "unknown luks version %q", version)
	}

	return withPassphraseFile(passphrase, func(keyfile string) error {
		luksType := "luks2"
		if version == LUKS1 {
			luksType = "luks1"
		}
		_, err := toolexec.Exec(ctx, c.Runner, "cryptsetup", "luksFormat", "--type", luksType, "--batch-mode", "--key-file", keyfile, device)
		return err
	})
}

// Unlock opens device with passphrase under mapperName, returning the
// cleartext mapper device path. Callers re-resolve the returned path via
// discovery.
func (c *Controller) Unlock(ctx context.Context, device, passphrase, mapperName string) (string, error) {
	var cleartextPath string
	err := withPassphraseFile(passphrase, func(keyfile string) error {
		_, err := toolexec.Exec(ctx, c.Runner, "cryptsetup", "luksOpen", "--key-file", keyfile, device, mapperName)
		return err
	})
	if err != nil {
		return "", err
	}
	cleartextPath = filepath.Join("/dev/mapper", mapperName)
	return cleartextPath, nil
}

// Lock closes mapperName. Invariant (§4.6): the controller does not check
// for mounted cleartext descendants itself — the broker must unmount first.
func (c *Controller) Lock(ctx context.Context, mapperName string) error {
	_, err := toolexec.Exec(ctx, c.Runner, "cryptsetup", "luksClose", mapperName)
	return err
}

// ChangePassphrase replaces the current passphrase with new on device.
func (c *Controller) ChangePassphrase(ctx context.Context, device, current, new_ string) error {
	return withPassphraseFile(current, func(currentFile string) error {
		return withPassphraseFile(new_, func(newFile string) error {
			_, err := toolexec.Exec(ctx, c.Runner, "cryptsetup", "luksChangeKey", device, "--key-file", currentFile, newFile)
			return err
		})
	})
}

// EncryptionOptions is the crypttab-derived settings for one container,
// serialized as JSON in the IPC payload (§4.6).
type EncryptionOptions struct {
	Name    string            `json:"name"`
	Device  string            `json:"device"`
	Options map[string]string `json:"options"`
}

// GetEncryptionOptions reads the crypttab entry for device, if any.
func GetEncryptionOptions(crypttabPath, device string) (*EncryptionOptions, error) {
	entries, err := readCrypttab(crypttabPath)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Device == device {
			return &e, nil
		}
	}
	return nil, model.NewError(model.KindDeviceNotFound, "no crypttab entry for %s", device)
}

// SetEncryptionOptions writes (creating or replacing) the crypttab entry for
// device, preserving every other entry's position.
func SetEncryptionOptions(crypttabPath, device, name string, options map[string]string) error {
	entries, err := readCrypttab(crypttabPath)
	if err != nil {
		return err
	}

	replaced := false
	for i, e := range entries {
		if e.Device == device {
			entries[i] = EncryptionOptions{Name: name, Device: device, Options: options}
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, EncryptionOptions{Name: name, Device: device, Options: options})
	}

	return writeCrypttab(crypttabPath, entries)
}

// DefaultEncryptionOptions removes device's crypttab entry entirely,
// returning it to the discovery-time default.
func DefaultEncryptionOptions(crypttabPath, device string) error {
	entries, err := readCrypttab(crypttabPath)
	if err != nil {
		return err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.Device != device {
			out = append(out, e)
		}
	}
	return writeCrypttab(crypttabPath, out)
}

func readCrypttab(path string) ([]EncryptionOptions, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, model.WrapError(model.KindOperationFailed, err, "reading %s", path)
	}

	var entries []EncryptionOptions
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		opts := map[string]string{}
		if len(fields) >= 4 {
			for _, kv := range strings.Split(fields[3], ",") {
				if kv == "" {
					continue
				}
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) == 2 {
					opts[parts[0]] = parts[1]
				} else {
					opts[parts[0]] = ""
				}
			}
		}
		entries = append(entries, EncryptionOptions{Name: fields[0], Device: fields[1], Options: opts})
	}
	return entries, nil
}

func writeCrypttab(path string, entries []EncryptionOptions) error {
	var b strings.Builder
	for _, e := range entries {
		keyfile := "none"
		var optTokens []string
		for k, v := range e.Options {
			if v == "" {
				optTokens = append(optTokens, k)
			} else {
				optTokens = append(optTokens, k+"="+v)
			}
		}
		opts := "none"
		if len(optTokens) > 0 {
			opts = strings.Join(optTokens, ",")
		}
		b.WriteString(e.Name + " " + e.Device + " " + keyfile + " " + opts + "\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// withPassphraseFile writes passphrase to a private, caller-only-readable
// temp file for the duration of fn, since cryptsetup's --key-file argument
// is the only passphrase-input channel the shared toolexec.Runner interface
// (stdout/stderr capture, no stdin pipe) can drive.
func withPassphraseFile(passphrase string, fn func(path string) error) error {
	f, err := os.CreateTemp("", "storage-serviced-luks-*")
	if err != nil {
		return model.WrapError(model.KindOperationFailed, err, "creating passphrase temp file")
	}
	path := f.Name()
	defer os.Remove(path)

	if err := f.Chmod(0o600); err != nil {
		f.Close()
		return model.WrapError(model.KindOperationFailed, err, "securing passphrase temp file")
	}
	if _, err := f.WriteString(passphrase); err != nil {
		f.Close()
		return model.WrapError(model.KindOperationFailed, err, "writing passphrase temp file")
	}
	if err := f.Close(); err != nil {
		return model.WrapError(model.KindOperationFailed, err, "closing passphrase temp file")
	}

	return fn(path)
}
