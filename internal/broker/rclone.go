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

// rclone.go exports the Rclone interface (§6). System-scope config and
// mount operations require an explicit action beyond what a user-scope
// remote needs, since a system remote is visible and mountable by every
// local user once created.
package broker

import (
	"context"
	"encoding/json"

	"github.com/godbus/dbus/v5"

	"github.com/cosmic-utils/storage-serviced/internal/authority"
	"github.com/cosmic-utils/storage-serviced/internal/model"
	"github.com/cosmic-utils/storage-serviced/internal/rclone"
)

const ifaceRclone = "org.cosmic.StorageServiced.Rclone"

type rcloneIface struct{ b *Broker }

func configActionID(scope model.RemoteScope, base string) string {
	if scope == model.ScopeSystem {
		return "org.cosmic.storageserviced.rclone.system." + base
	}
	return "org.cosmic.storageserviced.rclone.user." + base
}

func (r *rcloneIface) ListRemotes(sender dbus.Sender) (string, *dbus.Error) {
	return r.b.invoke(context.Background(), sender, ifaceRclone, "ListRemotes", "org.cosmic.storageserviced.rclone.read", "", authority.CheckNone,
		func(ctx context.Context) (interface{}, error) {
			return rclone.ListRemotes()
		})
}

func (r *rcloneIface) GetRemote(name, scope string) (string, *dbus.Error) {
	rc, err := rclone.GetRemote(name, model.RemoteScope(scope))
	if err != nil {
		return "", toDBusError("GetRemote", err)
	}
	payload, err := jsonMarshalString(rc)
	if err != nil {
		return "", toDBusError("GetRemote", model.WrapError(model.KindOperationFailed, err, "marshaling remote %s", name))
	}
	return payload, nil
}

func (r *rcloneIface) CreateRemote(remoteJSON string, sender dbus.Sender) (string, *dbus.Error) {
	var rc model.RemoteConfig
	if err := json.Unmarshal([]byte(remoteJSON), &rc); err != nil {
		return "", toDBusError("CreateRemote", model.WrapError(model.KindInvalidArgument, err, "decoding remote config"))
	}
	return r.b.invoke(context.Background(), sender, ifaceRclone, "CreateRemote", configActionID(rc.Scope, "config"), rc.Name, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			if err := rclone.ValidateRemoteType(rc.RemoteType, rc.Options); err != nil {
				return nil, err
			}
			if err := rclone.CreateRemote(rc); err != nil {
				return nil, err
			}
			return struct{}{}, nil
		})
}

func (r *rcloneIface) UpdateRemote(remoteJSON string, sender dbus.Sender) (string, *dbus.Error) {
	var rc model.RemoteConfig
	if err := json.Unmarshal([]byte(remoteJSON), &rc); err != nil {
		return "", toDBusError("UpdateRemote", model.WrapError(model.KindInvalidArgument, err, "decoding remote config"))
	}
	return r.b.invoke(context.Background(), sender, ifaceRclone, "UpdateRemote", configActionID(rc.Scope, "config"), rc.Name, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			if err := rclone.ValidateRemoteType(rc.RemoteType, rc.Options); err != nil {
				return nil, err
			}
			if err := rclone.UpdateRemote(rc); err != nil {
				return nil, err
			}
			return struct{}{}, nil
		})
}

func (r *rcloneIface) DeleteRemote(name, scope string, sender dbus.Sender) (string, *dbus.Error) {
	remoteScope := model.RemoteScope(scope)
	return r.b.invoke(context.Background(), sender, ifaceRclone, "DeleteRemote", configActionID(remoteScope, "config"), name, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			return struct{}{}, rclone.DeleteRemote(name, remoteScope)
		})
}

func (r *rcloneIface) Mount(name, scope string, sender dbus.Sender) (string, *dbus.Error) {
	remoteScope := model.RemoteScope(scope)
	return r.b.invoke(context.Background(), sender, ifaceRclone, "Mount", configActionID(remoteScope, "mount"), name, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			if err := r.b.Rclone.Mount(ctx, name, remoteScope); err != nil {
				return nil, err
			}
			st := r.b.Rclone.GetMountStatus(name, remoteScope)
			r.b.emitSignal(r.b.Paths.Rclone, ifaceRclone, "MountChanged", name, scope, string(st.Status))
			return struct{}{}, nil
		})
}

func (r *rcloneIface) Unmount(name, scope string, sender dbus.Sender) (string, *dbus.Error) {
	remoteScope := model.RemoteScope(scope)
	return r.b.invoke(context.Background(), sender, ifaceRclone, "Unmount", configActionID(remoteScope, "mount"), name, authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			if err := r.b.Rclone.Unmount(ctx, name, remoteScope); err != nil {
				return nil, err
			}
			st := r.b.Rclone.GetMountStatus(name, remoteScope)
			r.b.emitSignal(r.b.Paths.Rclone, ifaceRclone, "MountChanged", name, scope, string(st.Status))
			return struct{}{}, nil
		})
}

func (r *rcloneIface) GetMountStatus(name, scope string) (string, *dbus.Error) {
	st := r.b.Rclone.GetMountStatus(name, model.RemoteScope(scope))
	payload, err := jsonMarshalString(st)
	if err != nil {
		return "", toDBusError("GetMountStatus", model.WrapError(model.KindOperationFailed, err, "marshaling mount status for %s", name))
	}
	return payload, nil
}

func (r *rcloneIface) TestRemote(name, scope string, sender dbus.Sender) (string, *dbus.Error) {
	remoteScope := model.RemoteScope(scope)
	return r.b.invoke(context.Background(), sender, ifaceRclone, "TestRemote", "org.cosmic.storageserviced.rclone.read", name, authority.CheckNone,
		func(ctx context.Context) (interface{}, error) {
			ok, detail, latency := r.b.Rclone.TestRemote(ctx, name, remoteScope)
			return struct {
				Reachable bool   `json:"reachable"`
				Detail    string `json:"detail"`
				LatencyMS int64  `json:"latency_ms"`
			}{ok, detail, latency.Milliseconds()}, nil
		})
}

func (r *rcloneIface) SupportedRemoteTypes() (string, *dbus.Error) {
	payload, err := jsonMarshalString(rclone.SupportedRemoteTypes)
	if err != nil {
		return "", toDBusError("SupportedRemoteTypes", model.WrapError(model.KindOperationFailed, err, "marshaling supported remote types"))
	}
	return payload, nil
}
