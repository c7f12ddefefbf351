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
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cosmic-utils/storage-serviced/internal/authority"
	"github.com/cosmic-utils/storage-serviced/internal/model"
)

// usageProgressRateLimit bounds UsageScanProgress emission to once every
// 200ms regardless of how fast the walk discovers entries, so a scan over a
// million-file tree doesn't flood the bus with signals (§4.5, §14).
const usageProgressRateLimit = 200 * time.Millisecond

// GetUsage reports used/total bytes for the filesystem mounted at
// mountPoint via statfs, the cheap O(1) path that does not walk the tree.
func (f *filesystemsIface) GetUsage(mountPoint string) (string, *dbus.Error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(mountPoint, &st); err != nil {
		return "", toDBusError("GetUsage", model.WrapError(model.KindOperationFailed, err, "statfs %s", mountPoint))
	}
	total := st.Blocks * uint64(st.Bsize)
	free := st.Bfree * uint64(st.Bsize)
	payload, _ := json.Marshal(model.UsageInfo{UsedBytes: total - free, TotalBytes: total})
	return string(payload), nil
}

// scanState tracks one in-flight usage scan, keyed by its generated scan ID.
type scanState struct {
	mu        sync.Mutex
	cancel    context.CancelFunc
	sizes     map[string]uint64
	processed uint64
	done      bool
}

// usageScans holds every scan started since process startup; scans are not
// persisted across restarts.
var (
	usageScansMu sync.Mutex
	usageScans   = map[string]*scanState{}
)

// GetUsageScan starts a background directory walk under mountPoint that
// tallies per-top-level-entry byte usage, emitting UsageScanProgress at a
// rate-limited cadence, and returns the newly generated scan ID immediately;
// the client polls GetUsageScanResult or waits for the progress/completion
// signal.
func (f *filesystemsIface) GetUsageScan(mountPoint string, sender dbus.Sender) (string, *dbus.Error) {
	return f.b.invoke(context.Background(), sender, ifaceFilesystems, "GetUsageScan", "org.cosmic.storageserviced.filesystems.read", mountPoint, authority.CheckNone,
		func(ctx context.Context) (interface{}, error) {
			scanID := uuid.NewString()
			scanCtx, cancel := context.WithCancel(context.Background())
			st := &scanState{cancel: cancel, sizes: map[string]uint64{}}

			usageScansMu.Lock()
			usageScans[scanID] = st
			usageScansMu.Unlock()

			go f.runUsageScan(scanCtx, scanID, mountPoint, st)

			return struct {
				ScanID string `json:"scan_id"`
			}{scanID}, nil
		})
}

func (f *filesystemsIface) runUsageScan(ctx context.Context, scanID, mountPoint string, st *scanState) {
	limiter := rate.NewLimiter(rate.Every(usageProgressRateLimit), 1)
	var estimatedTotal uint64
	if fi, err := os.Stat(mountPoint); err == nil && !fi.IsDir() {
		estimatedTotal = uint64(fi.Size())
	}

	_ = filepath.WalkDir(mountPoint, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return filepath.SkipAll
		default:
		}
		if err != nil || d.IsDir() {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		st.mu.Lock()
		top := topLevelEntry(mountPoint, path)
		st.sizes[top] += uint64(info.Size())
		st.processed++
		processed := st.processed
		st.mu.Unlock()

		if limiter.Allow() {
			f.b.emitSignal(f.b.Paths.Filesystems, ifaceFilesystems, "UsageScanProgress", scanID, processed, estimatedTotal)
		}
		return nil
	})

	st.mu.Lock()
	st.done = true
	processed := st.processed
	st.mu.Unlock()

	f.b.emitSignal(f.b.Paths.Filesystems, ifaceFilesystems, "UsageScanProgress", scanID, processed, processed)
}

func topLevelEntry(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	parts := splitFirstPathComponent(rel)
	return parts
}

func splitFirstPathComponent(rel string) string {
	for i, r := range rel {
		if r == filepath.Separator {
			return rel[:i]
		}
	}
	return rel
}

// GetUsageScanResult returns the current (possibly still-running) tally for
// scanID: per-top-level-entry byte totals, processed file count, and
// whether the walk has finished.
func (f *filesystemsIface) GetUsageScanResult(scanID string) (string, *dbus.Error) {
	usageScansMu.Lock()
	st, ok := usageScans[scanID]
	usageScansMu.Unlock()
	if !ok {
		return "", toDBusError("GetUsageScanResult", model.NewError(model.KindDeviceNotFound, "no usage scan %q", scanID))
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	payload, _ := json.Marshal(struct {
		Sizes     map[string]uint64 `json:"sizes"`
		Processed uint64            `json:"processed"`
		Done      bool              `json:"done"`
	}{st.sizes, st.processed, st.done})
	return string(payload), nil
}

// DeleteUsageFiles removes the given absolute paths to reclaim space; each
// failure is collected rather than aborting the batch.
func (f *filesystemsIface) DeleteUsageFiles(pathsJSON string, sender dbus.Sender) (string, *dbus.Error) {
	var paths []string
	if err := json.Unmarshal([]byte(pathsJSON), &paths); err != nil {
		return "", toDBusError("DeleteUsageFiles", model.WrapError(model.KindInvalidArgument, err, "decoding paths"))
	}

	return f.b.invoke(context.Background(), sender, ifaceFilesystems, "DeleteUsageFiles", "org.cosmic.storageserviced.filesystems.modify", "", authority.CheckAllowInteraction,
		func(ctx context.Context) (interface{}, error) {
			failures := map[string]string{}
			for _, p := range paths {
				if err := os.RemoveAll(p); err != nil {
					failures[p] = err.Error()
				}
			}
			return struct {
				Failures map[string]string `json:"failures"`
			}{failures}, nil
		})
}
