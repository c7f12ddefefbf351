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

// disks.go exports the Disks interface (§6): the few whole-drive operations
// that are real UDisks2.Drive/.Ata method calls rather than external-tool
// invocations, issued the same way internal/udisks reads drive properties
// and internal/authority calls polkit — a direct godbus method call against
// the bus object the discovery engine already resolved the drive's path
// from.
package broker

import (
	"context"

	"github.com/godbus/dbus/v5"

	"github.com/cosmic-utils/storage-serviced/internal/authority"
	"github.com/cosmic-utils/storage-serviced/internal/model"
)

const (
	ifaceDisks        = "org.cosmic.StorageServiced.Disks"
	udisksBusName     = "org.freedesktop.UDisks2"
	udisksDriveIface  = "org.freedesktop.UDisks2.Drive"
	udisksAtaIface    = "org.freedesktop.UDisks2.Drive.Ata"
	propertiesIface   = "org.freedesktop.DBus.Properties"
)

type disksIface struct{ b *Broker }

func (d *disksIface) driveObject(drivePath string) dbus.BusObject {
	return d.b.Conn.Object(udisksBusName, dbus.ObjectPath(drivePath))
}

func (d *disksIface) GetSmartStatus(drivePath string, sender dbus.Sender) (string, *dbus.Error) {
	return d.b.invoke(context.Background(), sender, ifaceDisks, "GetSmartStatus", "org.cosmic.storageserviced.disks.read", drivePath, authority.CheckNone,
		func(ctx context.Context) (interface{}, error) {
			obj := d.driveObject(drivePath)

			if call := obj.CallWithContext(ctx, udisksAtaIface+".SmartUpdate", 0, map[string]dbus.Variant{}); call.Err != nil {
				return nil, model.WrapError(model.KindDBusError, call.Err, "smart update for %s", drivePath)
			}

			var failing, enabled dbus.Variant
			_ = obj.CallWithContext(ctx, propertiesIface+".Get", 0, udisksAtaIface, "SmartFailing").Store(&failing)
			_ = obj.CallWithContext(ctx, propertiesIface+".Get", 0, udisksAtaIface, "SmartEnabled").Store(&enabled)

			status := "ok"
			if v, ok := failing.Value().(bool); ok && v {
				status = "failing"
			} else if v, ok := enabled.Value().(bool); ok && !v {
				status = "unavailable"
			}

			return struct {
				Status string `json:"status"`
			}{status}, nil
		})
}

func (d *disksIface) GetSmartAttributes(drivePath string, sender dbus.Sender) (string, *dbus.Error) {
	return d.b.invoke(context.Background(), sender, ifaceDisks, "GetSmartAttributes", "org.cosmic.storageserviced.disks.read", drivePath, authority.CheckNone,
		func(ctx context.Context) (interface{}, error) {
			var attrs [][]interface{}
			if err := d.driveObject(drivePath).CallWithContext(ctx, udisksAtaIface+".SmartGetAttributes", 0, map[string]dbus.Variant{}).Store(&attrs); err != nil {
				return nil, model.WrapError(model.KindDBusError, err, "smart attributes for %s", drivePath)
			}
			return attrs, nil
		})
}

func (d *disksIface) Remove(drivePath string, sender dbus.Sender) (string, *dbus.Error) {
	return d.b.invoke(context.Background(), sender, ifaceDisks, "Remove", "org.cosmic.storageserviced.disks.remove", drivePath, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			call := d.driveObject(drivePath).CallWithContext(ctx, udisksDriveIface+".Eject", 0, map[string]dbus.Variant{})
			if call.Err != nil {
				return nil, model.WrapError(model.KindDBusError, call.Err, "ejecting %s", drivePath)
			}
			return struct{}{}, nil
		})
}

func (d *disksIface) PowerOff(drivePath string, sender dbus.Sender) (string, *dbus.Error) {
	return d.b.invoke(context.Background(), sender, ifaceDisks, "PowerOff", "org.cosmic.storageserviced.disks.remove", drivePath, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			call := d.driveObject(drivePath).CallWithContext(ctx, udisksDriveIface+".PowerOff", 0, map[string]dbus.Variant{})
			if call.Err != nil {
				return nil, model.WrapError(model.KindDBusError, call.Err, "powering off %s", drivePath)
			}
			return struct{}{}, nil
		})
}

func (d *disksIface) StandbyNow(drivePath string, sender dbus.Sender) (string, *dbus.Error) {
	return d.b.invoke(context.Background(), sender, ifaceDisks, "StandbyNow", "org.cosmic.storageserviced.disks.power", drivePath, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			call := d.driveObject(drivePath).CallWithContext(ctx, udisksAtaIface+".PmStandby", 0, map[string]dbus.Variant{})
			if call.Err != nil {
				return nil, model.WrapError(model.KindDBusError, call.Err, "standby for %s", drivePath)
			}
			return struct{}{}, nil
		})
}

func (d *disksIface) Wakeup(drivePath string, sender dbus.Sender) (string, *dbus.Error) {
	return d.b.invoke(context.Background(), sender, ifaceDisks, "Wakeup", "org.cosmic.storageserviced.disks.power", drivePath, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			call := d.driveObject(drivePath).CallWithContext(ctx, udisksAtaIface+".PmWakeup", 0, map[string]dbus.Variant{})
			if call.Err != nil {
				return nil, model.WrapError(model.KindDBusError, call.Err, "wakeup for %s", drivePath)
			}
			return struct{}{}, nil
		})
}
