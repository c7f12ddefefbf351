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

// Package toolexec is the single funnel every external-tool invocation in
// the LUKS, logical-storage, RClone, and partition/FS controllers goes
// through (§4.11). It surfaces structured failures with a tool-missing hint
// appended for the tools known to frequently be absent.
package toolexec

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/cosmic-utils/storage-serviced/internal/model"
)

// Runner executes an external command and reports its outcome. The real
// implementation shells out via os/exec; tests substitute a recording fake
// (grounded on the original source's own FakeBackend call-recording
// pattern).
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

type execRunner struct{}

// NewRunner returns the production Runner that spawns real processes.
func NewRunner() Runner { return execRunner{} }

func (execRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// missingToolHints maps a binary basename to a human hint appended when that
// binary is the one that failed (or is altogether missing from PATH).
var missingToolHints = map[string]string{
	"mkfs.ntfs":  "install ntfs-3g",
	"mkfs.exfat": "install exfatprogs",
	"btrfs":      "install btrfs-progs",
	"mdadm":      "install mdadm",
}

// Exec runs name with args through runner and returns a *model.Error of kind
// OperationFailed on any non-zero exit or exec failure (including "binary
// not found"), with stderr and a known-missing-tool hint appended verbatim.
func Exec(ctx context.Context, runner Runner, name string, args ...string) (string, error) {
	stdout, stderr, err := runner.Run(ctx, name, args...)
	if err == nil {
		return stdout, nil
	}

	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = err.Error()
	}
	if hint, known := missingToolHints[name]; known {
		msg = msg + ". Hint: " + hint + "."
	}
	return stdout, model.WrapError(model.KindOperationFailed, err, "%s %s failed: %s", name, strings.Join(args, " "), msg)
}
