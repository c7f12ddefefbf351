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

package toolexec_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/cosmic-utils/storage-serviced/internal/model"
	"github.com/cosmic-utils/storage-serviced/internal/toolexec"
)

func Test(t *testing.T) { TestingT(t) }

type toolexecSuite struct{}

var _ = Suite(&toolexecSuite{})

// fakeRunner records every invocation and returns scripted responses,
// mirroring the original source's Arc<Mutex<Vec<Call>>> FakeBackend pattern.
type fakeRunner struct {
	calls  []call
	stdout string
	stderr string
	err    error
}

type call struct {
	name string
	args []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	f.calls = append(f.calls, call{name, args})
	return f.stdout, f.stderr, f.err
}

func (s *toolexecSuite) TestSuccessReturnsStdout(c *C) {
	r := &fakeRunner{stdout: "ok\n"}
	out, err := toolexec.Exec(context.Background(), r, "vgs", "--noheadings")
	c.Assert(err, IsNil)
	c.Check(out, Equals, "ok\n")
	c.Assert(r.calls, HasLen, 1)
	c.Check(r.calls[0].name, Equals, "vgs")
}

func (s *toolexecSuite) TestFailureSurfacesStderrAndHint(c *C) {
	r := &fakeRunner{stderr: "mkfs.ntfs: command not found", err: errors.New("exit status 127")}
	_, err := toolexec.Exec(context.Background(), r, "mkfs.ntfs", "/dev/sdb1")

	c.Assert(err, NotNil)
	c.Check(model.KindOf(err), Equals, model.KindOperationFailed)
	c.Check(strings.Contains(err.Error(), "mkfs.ntfs"), Equals, true)
	c.Check(strings.Contains(err.Error(), "ntfs-3g"), Equals, true)
}

func (s *toolexecSuite) TestFailureWithoutKnownHintOmitsOne(c *C) {
	r := &fakeRunner{stderr: "vgcreate: device busy", err: errors.New("exit status 5")}
	_, err := toolexec.Exec(context.Background(), r, "vgcreate", "vg0", "/dev/sdb1")

	c.Assert(err, NotNil)
	c.Check(strings.Contains(err.Error(), "install"), Equals, false)
}
