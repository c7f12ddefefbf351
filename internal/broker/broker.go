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

// Package broker is the authorized D-Bus object hierarchy (§6). It is the
// one place that holds the shared *dbus.Conn handle (§9's "no process-wide
// singleton" rule: the handle is constructed once in cmd/storage-serviced
// and passed down by reference into Broker and every controller that needs
// it) and the one place every mutating call passes through: resolve caller,
// authorize, invoke the controller, emit the topology signal, append the
// audit record, log the outcome, record the metric.
package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"

	"github.com/cosmic-utils/storage-serviced/internal/audit"
	"github.com/cosmic-utils/storage-serviced/internal/authority"
	"github.com/cosmic-utils/storage-serviced/internal/logging"
	"github.com/cosmic-utils/storage-serviced/internal/logical"
	"github.com/cosmic-utils/storage-serviced/internal/luks"
	"github.com/cosmic-utils/storage-serviced/internal/metrics"
	"github.com/cosmic-utils/storage-serviced/internal/model"
	"github.com/cosmic-utils/storage-serviced/internal/partitionops"
	"github.com/cosmic-utils/storage-serviced/internal/rclone"
	"github.com/cosmic-utils/storage-serviced/internal/toolexec"
	"github.com/cosmic-utils/storage-serviced/internal/udisks"
)

// ObjectPaths fixes the well-known object path for every exported
// interface, rooted at the configured object prefix.
type ObjectPaths struct {
	Filesystems dbus.ObjectPath
	Luks        dbus.ObjectPath
	LVM         dbus.ObjectPath
	Logical     dbus.ObjectPath
	Disks       dbus.ObjectPath
	Partitions  dbus.ObjectPath
	Rclone      dbus.ObjectPath
}

// PathsUnder builds the fixed hierarchy under prefix (e.g.
// "/org/cosmic/StorageServiced").
func PathsUnder(prefix string) ObjectPaths {
	return ObjectPaths{
		Filesystems: dbus.ObjectPath(prefix + "/Filesystems"),
		Luks:        dbus.ObjectPath(prefix + "/Luks"),
		LVM:         dbus.ObjectPath(prefix + "/LVM"),
		Logical:     dbus.ObjectPath(prefix + "/Logical"),
		Disks:       dbus.ObjectPath(prefix + "/Disks"),
		Partitions:  dbus.ObjectPath(prefix + "/Partitions"),
		Rclone:      dbus.ObjectPath(prefix + "/Rclone"),
	}
}

// Broker owns every controller and the cross-cutting concerns (§5, §7, §9)
// that wrap each bus method: authorization, audit, metrics, logging.
type Broker struct {
	Conn     *dbus.Conn
	Paths    ObjectPaths
	Log      zerolog.Logger
	Audit    *audit.Log
	Resolver authority.Resolver
	Checker  authority.Checker

	UDisks     *udisks.Engine
	Partitions *partitionops.Controller
	Luks       *luks.Controller
	Logical    *logical.Controller
	Rclone     *rclone.Controller
	Runner     toolexec.Runner
}

// New constructs a Broker from already-built dependencies; it does not
// start a bus connection itself (cmd/storage-serviced owns that).
func New(conn *dbus.Conn, prefix string, log zerolog.Logger, auditLog *audit.Log, resolver authority.Resolver, checker authority.Checker, ud *udisks.Engine, part *partitionops.Controller, lk *luks.Controller, lg *logical.Controller, rc *rclone.Controller, runner toolexec.Runner) *Broker {
	return &Broker{
		Conn:       conn,
		Paths:      PathsUnder(prefix),
		Log:        log,
		Audit:      auditLog,
		Resolver:   resolver,
		Checker:    checker,
		UDisks:     ud,
		Partitions: part,
		Luks:       lk,
		Logical:    lg,
		Rclone:     rc,
		Runner:     runner,
	}
}

// Export registers every interface's method table on its fixed object path.
// Each interface is exported as its own Go value (filesystemsIface, etc.) so
// godbus's reflection-based dispatch maps bus methods 1:1 onto exported Go
// methods without a hand-rolled method table.
func (b *Broker) Export() error {
	exports := []struct {
		path  dbus.ObjectPath
		iface string
		value interface{}
	}{
		{b.Paths.Filesystems, "org.cosmic.StorageServiced.Filesystems", &filesystemsIface{b}},
		{b.Paths.Luks, "org.cosmic.StorageServiced.Luks", &luksIface{b}},
		{b.Paths.LVM, "org.cosmic.StorageServiced.LVM", &lvmIface{b}},
		{b.Paths.Logical, "org.cosmic.StorageServiced.Logical", &logicalIface{b}},
		{b.Paths.Disks, "org.cosmic.StorageServiced.Disks", &disksIface{b}},
		{b.Paths.Partitions, "org.cosmic.StorageServiced.Partitions", &partitionsIface{b}},
		{b.Paths.Rclone, "org.cosmic.StorageServiced.Rclone", &rcloneIface{b}},
	}

	for _, e := range exports {
		if err := b.Conn.Export(e.value, e.path, e.iface); err != nil {
			return model.WrapError(model.KindDBusError, err, "exporting %s at %s", e.iface, e.path)
		}
	}
	return nil
}

// callerPID resolves sender's Unix process ID for the polkit subject.
func (b *Broker) callerPID(ctx context.Context, sender dbus.Sender) int32 {
	if b.Conn == nil {
		return 0
	}
	var pid uint32
	if err := b.Conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.GetConnectionUnixProcessID", 0, string(sender)).Store(&pid); err != nil {
		return 0
	}
	return int32(pid)
}

// invoke is the choke point every mutating bus method, and most read
// methods, pass through once their arguments have decoded: resolve the
// caller, authorize actionID, run fn, then unconditionally audit-log and
// metrics-record the outcome (§5, §7, §8's "exactly one AuditRecord per
// call" invariant). A JSON argument that fails to decode is rejected before
// invoke and leaves no audit record; GetRemote, GetMountStatus,
// SupportedRemoteTypes, GetUsage, GetUsageScanResult and
// GetEncryptionOptions answer directly without invoke. fn's result is
// marshaled to JSON, matching §6's "payloads are JSON strings" convention.
func (b *Broker) invoke(ctx context.Context, sender dbus.Sender, iface, method, actionID, target string, flags authority.CheckFlags, fn func(ctx context.Context) (interface{}, error)) (string, *dbus.Error) {
	timer := metrics.NewTimer()
	caller, err := b.Resolver.Resolve(ctx, string(sender))
	if err != nil {
		return b.finish(iface, method, actionID, target, timer, caller, err)
	}
	caller.Sender = string(sender)

	pid := b.callerPID(ctx, sender)
	if err := authority.Authorize(ctx, b.Checker, caller, pid, actionID, flags); err != nil {
		return b.finish(iface, method, actionID, target, timer, caller, err)
	}

	result, err := fn(ctx)
	if err != nil {
		return b.finish(iface, method, actionID, target, timer, caller, err)
	}

	payload, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		return b.finish(iface, method, actionID, target, timer, caller, model.WrapError(model.KindOperationFailed, marshalErr, "marshaling %s result", method))
	}

	if _, dbusErr := b.finish(iface, method, actionID, target, timer, caller, nil); dbusErr != nil {
		return "", dbusErr
	}
	return string(payload), nil
}

// finish records the audit/metrics/log side effects common to every call
// outcome and translates err (if any) into a *dbus.Error for the caller.
func (b *Broker) finish(iface, method, actionID, target string, timer *metrics.Timer, caller model.CallerInfo, err error) (string, *dbus.Error) {
	outcome := "ok"
	if err != nil {
		outcome = string(model.KindOf(err))
	}

	if b.Audit != nil {
		if _, auditErr := b.Audit.Append(model.AuditRecord{
			Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
			ActionID:   actionID,
			Target:     target,
			CallerUID:  caller.UID,
			CallerName: caller.Username,
			Outcome:    outcome,
			DurationMS: timer.Duration().Milliseconds(),
		}); auditErr != nil {
			b.Log.Warn().Err(auditErr).Msg("audit append failed")
		}
	}

	metrics.RecordBrokerCall(iface, method, outcome, timer)
	logging.LogBrokerCall(b.Log, iface, method, target, caller.UID, outcome, timer.Duration())

	if err != nil {
		return "", toDBusError(method, err)
	}
	return "", nil
}

// emitSignal fires a bus signal for a topology or progress change.
// Signal-emission failures are logged and discarded (§5, §7): a client
// missing a notification is not worth failing an otherwise-successful
// mutation for.
func (b *Broker) emitSignal(path dbus.ObjectPath, iface, name string, args ...interface{}) {
	if b.Conn == nil {
		return
	}
	if err := b.Conn.Emit(path, iface+"."+name, args...); err != nil {
		b.Log.Warn().Err(err).Str("signal", name).Msg("signal emit failed")
	}
}

func toDBusError(method string, err error) *dbus.Error {
	kind := model.KindOf(err)
	return dbus.NewError("org.cosmic.StorageServiced.Error."+string(kind), []interface{}{err.Error()})
}
