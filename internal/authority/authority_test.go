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

package authority_test

import (
	"context"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/cosmic-utils/storage-serviced/internal/authority"
	"github.com/cosmic-utils/storage-serviced/internal/model"
)

func Test(t *testing.T) { TestingT(t) }

type authoritySuite struct{}

var _ = Suite(&authoritySuite{})

type fakeChecker struct {
	calls   int
	granted bool
	err     error

	lastActionID string
	lastFlags    authority.CheckFlags
}

func (f *fakeChecker) CheckAuthorization(ctx context.Context, pid int32, uid uint32, actionID string, details map[string]string, flags authority.CheckFlags) (bool, error) {
	f.calls++
	f.lastActionID = actionID
	f.lastFlags = flags
	return f.granted, f.err
}

func (s *authoritySuite) TestAuthorizeBypassesPolkitForRoot(c *C) {
	chk := &fakeChecker{granted: false}
	err := authority.Authorize(context.Background(), chk, model.CallerInfo{UID: 0}, 100, "action-id", authority.CheckNone)
	c.Assert(err, IsNil)
	c.Check(chk.calls, Equals, 0)
}

func (s *authoritySuite) TestAuthorizeGrantsWhenPolkitAuthorizes(c *C) {
	chk := &fakeChecker{granted: true}
	err := authority.Authorize(context.Background(), chk, model.CallerInfo{UID: 1000}, 100, "action-id", authority.CheckNone)
	c.Assert(err, IsNil)
	c.Check(chk.calls, Equals, 1)
	c.Check(chk.lastActionID, Equals, "action-id")
}

func (s *authoritySuite) TestAuthorizeDeniesWhenPolkitRefuses(c *C) {
	chk := &fakeChecker{granted: false}
	err := authority.Authorize(context.Background(), chk, model.CallerInfo{UID: 1000}, 100, "action-id", authority.CheckNone)
	c.Assert(err, NotNil)
	c.Check(model.KindOf(err), Equals, model.KindAccessDenied)
}

func (s *authoritySuite) TestAuthorizeReturnsCancelledOnDismissal(c *C) {
	chk := &fakeChecker{err: authority.ErrDismissed}
	err := authority.Authorize(context.Background(), chk, model.CallerInfo{UID: 1000}, 100, "action-id", authority.CheckNone)
	c.Assert(err, NotNil)
	c.Check(model.KindOf(err), Equals, model.KindCancelled)
}

func (s *authoritySuite) TestAuthorizePropagatesInteractionFlag(c *C) {
	chk := &fakeChecker{granted: true}
	c.Assert(authority.Authorize(context.Background(), chk, model.CallerInfo{UID: 1000}, 100, "action-id", authority.CheckAllowInteraction), IsNil)
	c.Check(chk.lastFlags, Equals, authority.CheckAllowInteraction)
}
