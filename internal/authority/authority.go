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

// Package authority resolves D-Bus caller identity and checks polkit
// authorization for privileged broker operations (§4.9).
package authority

import (
	"context"
	"errors"
	"os/user"
	"strconv"

	"github.com/godbus/dbus/v5"

	"github.com/cosmic-utils/storage-serviced/internal/model"
)

const (
	polkitBusName   = "org.freedesktop.PolicyKit1"
	polkitPath      = "/org/freedesktop/PolicyKit1/Authority"
	polkitInterface = "org.freedesktop.PolicyKit1.Authority"

	subjectKindSystemBusName = "system-bus-name"
)

// CheckFlags mirrors polkit's CheckAuthorizationFlags bitmask.
type CheckFlags uint32

const (
	CheckNone              CheckFlags = 0
	CheckAllowInteraction  CheckFlags = 1
)

// ErrDismissed indicates the user cancelled the polkit authentication
// dialog rather than being denied outright.
var ErrDismissed = errors.New("request dismissed")

// Resolver resolves the identity of a D-Bus message sender. Production code
// uses the connection-backed resolver from NewResolver; tests substitute a
// fixed CallerInfo.
type Resolver interface {
	Resolve(ctx context.Context, sender string) (model.CallerInfo, error)
}

type connResolver struct {
	conn *dbus.Conn
}

// NewResolver returns a Resolver backed by a live D-Bus connection's
// org.freedesktop.DBus caller-identity methods.
func NewResolver(conn *dbus.Conn) Resolver {
	return &connResolver{conn: conn}
}

func (r *connResolver) Resolve(ctx context.Context, sender string) (model.CallerInfo, error) {
	busObj := r.conn.BusObject()

	var uid uint32
	if err := busObj.CallWithContext(ctx, "org.freedesktop.DBus.GetConnectionUnixUser", 0, sender).Store(&uid); err != nil {
		return model.CallerInfo{}, model.WrapError(model.KindDBusError, err, "resolving caller uid for %s", sender)
	}

	caller := model.CallerInfo{UID: uid, Sender: sender}
	if u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10)); err == nil {
		caller.Username = u.Username
	}
	return caller, nil
}

// Checker performs polkit authorization checks for one D-Bus subject.
type Checker interface {
	CheckAuthorization(ctx context.Context, pid int32, uid uint32, actionID string, details map[string]string, flags CheckFlags) (bool, error)
}

type polkitChecker struct {
	conn *dbus.Conn
}

// NewChecker returns a Checker backed by the system polkit authority.
func NewChecker(conn *dbus.Conn) Checker {
	return &polkitChecker{conn: conn}
}

// authorizationResult mirrors polkit's (is_authorized, is_challenge,
// details) CheckAuthorization return struct.
type authorizationResult struct {
	IsAuthorized bool
	IsChallenge  bool
	Details      map[string]string
}

func (p *polkitChecker) CheckAuthorization(ctx context.Context, pid int32, uid uint32, actionID string, details map[string]string, flags CheckFlags) (bool, error) {
	obj := p.conn.Object(polkitBusName, dbus.ObjectPath(polkitPath))

	subjectDetails := map[string]dbus.Variant{
		"pid":       dbus.MakeVariant(uint32(pid)),
		"start-time": dbus.MakeVariant(uint64(0)),
	}
	subject := struct {
		Kind    string
		Details map[string]dbus.Variant
	}{Kind: subjectKindSystemBusName, Details: subjectDetails}

	if details == nil {
		details = map[string]string{}
	}

	var result authorizationResult
	call := obj.CallWithContext(ctx, polkitInterface+".CheckAuthorization", 0,
		subject, actionID, details, uint32(flags), "")
	if err := call.Store(&result.IsAuthorized, &result.IsChallenge, &result.Details); err != nil {
		if dbusErr, ok := err.(dbus.Error); ok && dbusErr.Name == "org.freedesktop.PolicyKit1.Error.Cancelled" {
			return false, ErrDismissed
		}
		return false, model.WrapError(model.KindDBusError, err, "checking polkit authorization for %s", actionID)
	}

	return result.IsAuthorized, nil
}

// Authorize is the broker-facing entry point: resolve the caller, then check
// actionID against it. Root callers (uid 0) bypass the polkit round trip
// entirely, mirroring the teacher's "ucred uid==0 is always ok" shortcut.
func Authorize(ctx context.Context, checker Checker, caller model.CallerInfo, pid int32, actionID string, flags CheckFlags) error {
	if caller.UID == 0 {
		return nil
	}

	ok, err := checker.CheckAuthorization(ctx, pid, caller.UID, actionID, nil, flags)
	if err != nil {
		if errors.Is(err, ErrDismissed) {
			return model.NewError(model.KindCancelled, "authorization for %s was dismissed", actionID)
		}
		return err
	}
	if !ok {
		return model.NewError(model.KindAccessDenied, "not authorized for %s", actionID)
	}
	return nil
}
