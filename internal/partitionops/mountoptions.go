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

package partitionops

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/cosmic-utils/storage-serviced/internal/dirs"
	"github.com/cosmic-utils/storage-serviced/internal/model"
)

// DefaultMountOptions is the suggested default opts string (§4.5).
const DefaultMountOptions = "nosuid,nodev,nofail"

// uiFlagTokens are the client-UI hint tokens injected/removed idempotently
// alongside the user's own mount options.
var uiFlagTokens = []string{"x-gvfs-show", "x-udisks-auth", "x-gvfs-name=", "x-gvfs-icon=", "x-gvfs-symbolic-icon="}

// FstabEntry is one line of /etc/fstab, built for the block-configuration
// interface's mount-options editing call (§4.5).
type FstabEntry struct {
	FSName string
	Dir    string
	Type   string
	Opts   string
	Freq   int
	Passno int
}

// BuildFstabEntry assembles the entry the block-configuration interface
// writes when editing mount options: freq/passno are always zeroed, and the
// show/auth/name/icon UI tokens are added when show is true (removed
// otherwise), independent of whatever else the caller supplied in opts.
func BuildFstabEntry(device, mountPoint, fsType, opts string, show bool, gvfsName, gvfsIcon string) FstabEntry {
	tokens := splitOpts(opts)
	tokens = removeUITokens(tokens)
	if show {
		tokens = append(tokens, "x-gvfs-show", "x-udisks-auth")
		if gvfsName != "" {
			tokens = append(tokens, "x-gvfs-name="+gvfsName)
		}
		if gvfsIcon != "" {
			tokens = append(tokens, "x-gvfs-icon="+gvfsIcon)
		}
	}

	return FstabEntry{
		FSName: device,
		Dir:    mountPoint,
		Type:   fsType,
		Opts:   strings.Join(tokens, ","),
		Freq:   0,
		Passno: 0,
	}
}

// MountAtStartup, RequireAuth, and ShowInUI expose the entry's UI-relevant
// flags as the booleans get_mount_options hands back to the client, derived
// from the token set rather than stored redundantly.
func (e FstabEntry) MountAtStartup() bool { return !hasToken(e.Opts, "noauto") }
func (e FstabEntry) RequireAuth() bool    { return hasToken(e.Opts, "x-udisks-auth") }
func (e FstabEntry) ShowInUI() bool       { return hasToken(e.Opts, "x-gvfs-show") }

// OtherOptions returns Opts with every UI/startup token removed and the
// remainder deduplicated in first-occurrence order, matching the round-trip
// normalization testable property.
func (e FstabEntry) OtherOptions() string {
	tokens := removeUITokens(splitOpts(e.Opts))
	out := tokens[:0:0]
	seen := map[string]bool{}
	for _, t := range tokens {
		if t == "noauto" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return strings.Join(out, ",")
}

func hasToken(opts, token string) bool {
	for _, t := range splitOpts(opts) {
		if t == token {
			return true
		}
	}
	return false
}

// ReadFstabEntry scans /etc/fstab for the line whose first field is device.
// A missing file or missing entry both return ok=false, not an error.
func ReadFstabEntry(device string) (entry FstabEntry, ok bool, err error) {
	f, openErr := os.Open(dirs.EtcFstab)
	if openErr != nil {
		if os.IsNotExist(openErr) {
			return FstabEntry{}, false, nil
		}
		return FstabEntry{}, false, model.WrapError(model.KindOperationFailed, openErr, "reading %s", dirs.EtcFstab)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 || fields[0] != device {
			continue
		}
		e := FstabEntry{FSName: fields[0], Dir: fields[1], Type: fields[2], Opts: fields[3]}
		if len(fields) > 4 {
			e.Freq, _ = strconv.Atoi(fields[4])
		}
		if len(fields) > 5 {
			e.Passno, _ = strconv.Atoi(fields[5])
		}
		return e, true, nil
	}
	return FstabEntry{}, false, nil
}

// WriteFstabEntry rewrites /etc/fstab wholesale, replacing any existing line
// for entry.FSName (or appending one), preserving every other line
// untouched (§5's "rewritten whole, not appended" rule).
func WriteFstabEntry(entry FstabEntry) error {
	lines, err := readAllLines(dirs.EtcFstab)
	if err != nil {
		return err
	}

	rendered := renderFstabLine(entry)
	replaced := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) > 0 && fields[0] == entry.FSName {
			lines[i] = rendered
			replaced = true
			break
		}
	}
	if !replaced {
		lines = append(lines, rendered)
	}

	return os.WriteFile(dirs.EtcFstab, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}

func renderFstabLine(e FstabEntry) string {
	opts := e.Opts
	if opts == "" {
		opts = "defaults"
	}
	return strings.Join([]string{e.FSName, e.Dir, e.Type, opts, strconv.Itoa(e.Freq), strconv.Itoa(e.Passno)}, "\t")
}

func readAllLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, model.WrapError(model.KindOperationFailed, err, "reading %s", path)
	}
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}

func splitOpts(opts string) []string {
	if opts == "" {
		return nil
	}
	var out []string
	for _, t := range strings.Split(opts, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// removeUITokens strips any previously-injected UI-flag tokens so repeated
// edits stay idempotent instead of accumulating duplicates.
func removeUITokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		skip := false
		for _, ui := range uiFlagTokens {
			if t == ui || strings.HasPrefix(t, ui) {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, t)
		}
	}
	return out
}
