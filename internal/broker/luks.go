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
	"encoding/json"
	"path/filepath"

	"github.com/godbus/dbus/v5"

	"github.com/cosmic-utils/storage-serviced/internal/authority"
	"github.com/cosmic-utils/storage-serviced/internal/dirs"
	"github.com/cosmic-utils/storage-serviced/internal/luks"
	"github.com/cosmic-utils/storage-serviced/internal/model"
)

const ifaceLuks = "org.cosmic.StorageServiced.Luks"

type luksIface struct{ b *Broker }

func (l *luksIface) ListEncryptedDevices(sender dbus.Sender) (string, *dbus.Error) {
	return l.b.invoke(context.Background(), sender, ifaceLuks, "ListEncryptedDevices", "org.cosmic.storageserviced.luks.read", "", authority.CheckNone,
		func(ctx context.Context) (interface{}, error) {
			volumes, err := l.b.UDisks.GetDisksWithVolumes(ctx)
			if err != nil {
				return nil, err
			}
			var roots []*model.VolumeInfo
			for _, d := range volumes {
				roots = append(roots, d.Volume)
			}
			return luks.ListEncryptedDevices(roots), nil
		})
}

func (l *luksIface) Format(device, passphrase, version string, sender dbus.Sender) (string, *dbus.Error) {
	return l.b.invoke(context.Background(), sender, ifaceLuks, "Format", "org.cosmic.storageserviced.luks.format", device, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			if err := l.b.Luks.Format(ctx, device, passphrase, luks.Version(version)); err != nil {
				return nil, err
			}
			l.b.emitSignal(l.b.Paths.Luks, ifaceLuks, "ContainerCreated", device)
			return struct{}{}, nil
		})
}

func (l *luksIface) Unlock(device, passphrase, mapperName string, sender dbus.Sender) (string, *dbus.Error) {
	return l.b.invoke(context.Background(), sender, ifaceLuks, "Unlock", "org.cosmic.storageserviced.luks.unlock", device, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			cleartext, err := l.b.Luks.Unlock(ctx, device, passphrase, mapperName)
			if err != nil {
				return nil, err
			}
			l.b.emitSignal(l.b.Paths.Luks, ifaceLuks, "ContainerUnlocked", device, cleartext)
			return struct {
				CleartextDevicePath string `json:"cleartext_device_path"`
			}{cleartext}, nil
		})
}

// Lock enforces the unmount-before-lock invariant (§1, §8 Scenario 4): any
// filesystem mounted on the container's cleartext mapping is unmounted
// before cryptsetup closes it. Any step's failure aborts with that step's
// error kind.
func (l *luksIface) Lock(mapperName string, sender dbus.Sender) (string, *dbus.Error) {
	return l.b.invoke(context.Background(), sender, ifaceLuks, "Lock", "org.cosmic.storageserviced.luks.lock", mapperName, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			cleartextPath := filepath.Join("/dev/mapper", mapperName)
			if err := l.b.unmountDescendantFilesystems(ctx, cleartextPath); err != nil {
				return nil, err
			}
			if err := l.b.Luks.Lock(ctx, mapperName); err != nil {
				return nil, err
			}
			l.b.emitSignal(l.b.Paths.Luks, ifaceLuks, "ContainerLocked", mapperName)
			return struct{}{}, nil
		})
}

func (l *luksIface) ChangePassphrase(device, current, new_ string, sender dbus.Sender) (string, *dbus.Error) {
	return l.b.invoke(context.Background(), sender, ifaceLuks, "ChangePassphrase", "org.cosmic.storageserviced.luks.modify", device, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			return struct{}{}, l.b.Luks.ChangePassphrase(ctx, device, current, new_)
		})
}

func (l *luksIface) GetEncryptionOptions(device string) (string, *dbus.Error) {
	opts, err := luks.GetEncryptionOptions(dirs.EtcCrypttab, device)
	if err != nil {
		return "", toDBusError("GetEncryptionOptions", err)
	}
	payload, _ := json.Marshal(opts)
	return string(payload), nil
}

func (l *luksIface) SetEncryptionOptions(device, name, optionsJSON string, sender dbus.Sender) (string, *dbus.Error) {
	var options map[string]string
	if optionsJSON != "" {
		if err := json.Unmarshal([]byte(optionsJSON), &options); err != nil {
			return "", toDBusError("SetEncryptionOptions", err)
		}
	}
	return l.b.invoke(context.Background(), sender, ifaceLuks, "SetEncryptionOptions", "org.cosmic.storageserviced.luks.modify", device, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			return struct{}{}, luks.SetEncryptionOptions(dirs.EtcCrypttab, device, name, options)
		})
}

func (l *luksIface) DefaultEncryptionOptions(device string, sender dbus.Sender) (string, *dbus.Error) {
	return l.b.invoke(context.Background(), sender, ifaceLuks, "DefaultEncryptionOptions", "org.cosmic.storageserviced.luks.modify", device, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			return struct{}{}, luks.DefaultEncryptionOptions(dirs.EtcCrypttab, device)
		})
}
