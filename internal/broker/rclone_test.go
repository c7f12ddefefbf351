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
	"path/filepath"
	"time"

	. "gopkg.in/check.v1"

	"github.com/rs/zerolog"

	"github.com/cosmic-utils/storage-serviced/internal/audit"
	"github.com/cosmic-utils/storage-serviced/internal/model"
	"github.com/cosmic-utils/storage-serviced/internal/rclone"
)

type rcloneSuite struct {
	auditLog *audit.Log
	broker   *Broker
	mounter  *fakeMounter
}

var _ = Suite(&rcloneSuite{})

type fakeMounter struct {
	mountErr   error
	unmountErr error
}

func (f *fakeMounter) Mount(ctx context.Context, remoteName, configPath, mountPoint string) error {
	return f.mountErr
}
func (f *fakeMounter) Unmount(ctx context.Context, mountPoint string) error { return f.unmountErr }
func (f *fakeMounter) Probe(ctx context.Context, remoteName, configPath string) (bool, string, time.Duration) {
	return true, "ok", time.Millisecond
}

func (s *rcloneSuite) SetUpTest(c *C) {
	log, err := audit.Open(filepath.Join(c.MkDir(), "audit.db"))
	c.Assert(err, IsNil)
	s.auditLog = log

	s.mounter = &fakeMounter{}
	s.broker = &Broker{
		Log:      zerolog.Nop(),
		Audit:    s.auditLog,
		Resolver: &fakeResolver{caller: model.CallerInfo{UID: 0, Username: "root"}},
		Checker:  &fakeChecker{authorized: true},
		Rclone:   rclone.NewController(s.mounter),
	}
}

func (s *rcloneSuite) TearDownTest(c *C) {
	c.Assert(s.auditLog.Close(), IsNil)
}

func (s *rcloneSuite) TestConfigActionIDDistinguishesScope(c *C) {
	c.Check(configActionID(model.ScopeSystem, "config"), Equals, "org.cosmic.storageserviced.rclone.system.config")
	c.Check(configActionID(model.ScopeUser, "config"), Equals, "org.cosmic.storageserviced.rclone.user.config")
}

func (s *rcloneSuite) TestCreateRemoteRejectsInvalidJSON(c *C) {
	iface := &rcloneIface{b: s.broker}
	_, dbusErr := iface.CreateRemote("not json", "")
	c.Assert(dbusErr, NotNil)
	c.Check(dbusErr.Name, Equals, "org.cosmic.StorageServiced.Error.InvalidArgument")
}

func (s *rcloneSuite) TestCreateRemoteRejectsUnsupportedType(c *C) {
	iface := &rcloneIface{b: s.broker}
	remoteJSON := `{"name":"backup","remote_type":"not-a-real-backend","scope":"user","options":{}}`
	_, dbusErr := iface.CreateRemote(remoteJSON, "")
	c.Assert(dbusErr, NotNil)
}

func (s *rcloneSuite) TestMountEmitsStatusAndSucceeds(c *C) {
	iface := &rcloneIface{b: s.broker}
	_, dbusErr := iface.Mount("backup", "user", "")
	c.Assert(dbusErr, IsNil)

	st := s.broker.Rclone.GetMountStatus("backup", model.ScopeUser)
	c.Check(st.Status, Equals, model.StatusMounted)
}

func (s *rcloneSuite) TestMountPropagatesMounterFailure(c *C) {
	s.mounter.mountErr = model.NewError(model.KindOperationFailed, "rclone binary missing")
	iface := &rcloneIface{b: s.broker}
	_, dbusErr := iface.Mount("backup", "user", "")
	c.Assert(dbusErr, NotNil)
	c.Check(dbusErr.Name, Equals, "org.cosmic.StorageServiced.Error.OperationFailed")
}

func (s *rcloneSuite) TestGetMountStatusReturnsUnmountedForUnknownRemote(c *C) {
	iface := &rcloneIface{b: s.broker}
	payload, dbusErr := iface.GetMountStatus("ghost", "user")
	c.Assert(dbusErr, IsNil)
	c.Check(payload, Equals, `{"status":"unmounted"}`)
}

func (s *rcloneSuite) TestSupportedRemoteTypesReturnsNonEmptyList(c *C) {
	iface := &rcloneIface{}
	payload, dbusErr := iface.SupportedRemoteTypes()
	c.Assert(dbusErr, IsNil)
	c.Check(len(payload) > 2, Equals, true)
}
