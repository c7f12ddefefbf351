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

// Package procfind enumerates processes holding a mount point open by
// walking /proc, and provides the guarded SIGKILL helper (§4.10).
package procfind

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/cosmic-utils/storage-serviced/internal/dirs"
)

// ProcessInfo describes one process holding a mount open.
type ProcessInfo struct {
	PID      int
	Command  string
	UID      uint32
	Username string
}

// KillResult is the outcome of one kill attempt.
type KillResult struct {
	PID     int
	Success bool
	Error   string
}

// FindUsingMount enumerates /proc and reports every process with an open
// file descriptor whose link target is mountPoint or lies beneath it; the
// descriptor's file type is not checked. mountPoint must be a non-empty
// absolute path; other values return an empty slice (not an error) to match
// the contract's "never fatal" discovery semantics.
func FindUsingMount(mountPoint string) []ProcessInfo {
	trimmed := strings.TrimSpace(mountPoint)
	if trimmed == "" || !strings.HasPrefix(trimmed, "/") {
		return nil
	}

	uidMap := buildUIDMap()

	entries, err := os.ReadDir(dirs.ProcDir)
	if err != nil {
		return nil
	}

	var result []ProcessInfo
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid <= 0 {
			continue
		}

		if !hasOpenFDUnder(pid, trimmed) {
			continue
		}

		command := extractCommand(pid)
		uid, username := extractUserInfo(pid, uidMap)

		result = append(result, ProcessInfo{PID: pid, Command: command, UID: uid, Username: username})
	}

	return result
}

func hasOpenFDUnder(pid int, mountPoint string) bool {
	fdDir := filepath.Join(dirs.ProcDir, strconv.Itoa(pid), "fd")
	entries, err := os.ReadDir(fdDir)
	if err != nil {
		return false
	}

	for _, entry := range entries {
		target, err := os.Readlink(filepath.Join(fdDir, entry.Name()))
		if err != nil {
			continue
		}
		if target == mountPoint || strings.HasPrefix(target, mountPoint+"/") {
			return true
		}
	}
	return false
}

// extractCommand follows argv[0] basename -> kernel comm -> "<PID N>".
func extractCommand(pid int) string {
	if cmdline, err := os.ReadFile(filepath.Join(dirs.ProcDir, strconv.Itoa(pid), "cmdline")); err == nil {
		parts := strings.Split(string(cmdline), "\x00")
		if len(parts) > 0 && parts[0] != "" {
			return filepath.Base(parts[0])
		}
	}

	if comm, err := os.ReadFile(filepath.Join(dirs.ProcDir, strconv.Itoa(pid), "comm")); err == nil {
		if name := strings.TrimSpace(string(comm)); name != "" {
			return name
		}
	}

	return "<PID " + strconv.Itoa(pid) + ">"
}

func extractUserInfo(pid int, uidMap map[uint32]string) (uint32, string) {
	statusPath := filepath.Join(dirs.ProcDir, strconv.Itoa(pid), "status")
	f, err := os.Open(statusPath)
	if err != nil {
		return 0, "root"
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "Uid:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		ruid, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			break
		}
		uid := uint32(ruid)
		if name, ok := uidMap[uid]; ok {
			return uid, name
		}
		return uid, strconv.FormatUint(uint64(uid), 10)
	}

	return 0, "root"
}

// buildUIDMap reads /etc/passwd once into a uid -> username table.
func buildUIDMap() map[uint32]string {
	m := make(map[uint32]string)

	f, err := os.Open(dirs.EtcPasswd)
	if err != nil {
		return m
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.Split(scanner.Text(), ":")
		if len(parts) < 3 {
			continue
		}
		uid, err := strconv.ParseUint(parts[2], 10, 32)
		if err != nil {
			continue
		}
		m[uint32(uid)] = parts[0]
	}
	return m
}

// KillProcesses sends SIGKILL to every PID, refusing PID <= 1, treating
// ESRCH as success, and reporting EPERM as a distinct failure kind.
func KillProcesses(pids []int) []KillResult {
	results := make([]KillResult, 0, len(pids))
	for _, pid := range pids {
		if pid <= 1 {
			results = append(results, KillResult{PID: pid, Success: false, Error: "Refusing to kill system process"})
			continue
		}

		err := unix.Kill(pid, unix.SIGKILL)
		switch err {
		case nil:
			results = append(results, KillResult{PID: pid, Success: true})
		case unix.ESRCH:
			results = append(results, KillResult{PID: pid, Success: true})
		case unix.EPERM:
			results = append(results, KillResult{PID: pid, Success: false, Error: "Permission denied"})
		default:
			results = append(results, KillResult{PID: pid, Success: false, Error: err.Error()})
		}
	}
	return results
}
