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

// Package rclone is the RClone remote + mount controller (§4.8): per-scope
// INI config persistence, the mount-state machine, and the rclone-mount
// process lifecycle.
package rclone

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mvo5/goconfigparser"
	"gopkg.in/retry.v1"
	"gopkg.in/tomb.v2"

	"github.com/cosmic-utils/storage-serviced/internal/dirs"
	"github.com/cosmic-utils/storage-serviced/internal/model"
	"github.com/cosmic-utils/storage-serviced/internal/toolexec"
)

// secretKeyMarkers are substrings that flag an option key as carrying a
// credential, used to compute RemoteConfig.HasSecrets without ever
// round-tripping the value itself over the IPC boundary unnecessarily.
var secretKeyMarkers = []string{"token", "secret", "key", "pass"}

func hasSecrets(options map[string]string) bool {
	for k := range options {
		lower := strings.ToLower(k)
		for _, marker := range secretKeyMarkers {
			if strings.Contains(lower, marker) {
				return true
			}
		}
	}
	return false
}

func configPath(scope model.RemoteScope) string {
	if scope == model.ScopeSystem {
		return dirs.RcloneSysConfig
	}
	return dirs.RcloneUserConfig
}

func mountPointFor(scope model.RemoteScope, name string) string {
	if scope == model.ScopeSystem {
		return dirs.SystemMountRoot() + "/" + name
	}
	return dirs.RuntimeMountRoot() + "/" + name
}

// readConfig loads scope's INI file; a missing file yields an empty, valid
// parser rather than an error (§4.8's "missing file is not an error"
// convention, shared with §4.13's config loader).
func readConfig(scope model.RemoteScope) (*goconfigparser.ConfigParser, error) {
	cfg := goconfigparser.New()
	path := configPath(scope)
	if err := cfg.ReadFile(path); err != nil {
		if !strings.Contains(err.Error(), "no such file") {
			return nil, model.WrapError(model.KindOperationFailed, err, "reading rclone config %s", path)
		}
	}
	return cfg, nil
}

func writeConfig(scope model.RemoteScope, cfg *goconfigparser.ConfigParser) error {
	path := configPath(scope)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return model.WrapError(model.KindOperationFailed, err, "creating rclone config dir for %s", path)
	}
	if err := cfg.Write(path, false); err != nil {
		return model.WrapError(model.KindOperationFailed, err, "writing rclone config %s", path)
	}
	return nil
}

// remoteFromSection reads one [name] section's options (minus the "type"
// key, which callers surface separately) into a RemoteConfig.
func remoteFromSection(cfg *goconfigparser.ConfigParser, name string, scope model.RemoteScope) (model.RemoteConfig, error) {
	opts, err := cfg.Options(name)
	if err != nil {
		return model.RemoteConfig{}, model.NewError(model.KindDeviceNotFound, "no remote named %q", name)
	}
	remoteType, _ := cfg.Get(name, "type")
	options := make(map[string]string, len(opts))
	for _, k := range opts {
		if k == "type" {
			continue
		}
		v, _ := cfg.Get(name, k)
		options[k] = v
	}
	return model.RemoteConfig{
		Name:       name,
		RemoteType: remoteType,
		Scope:      scope,
		Options:    options,
		HasSecrets: hasSecrets(options),
	}, nil
}

// ListRemotes reads both scope config files (whichever exist) and returns
// every remote found.
func ListRemotes() ([]model.RemoteConfig, error) {
	var out []model.RemoteConfig
	for _, scope := range []model.RemoteScope{model.ScopeUser, model.ScopeSystem} {
		cfg, err := readConfig(scope)
		if err != nil {
			return nil, err
		}
		for _, name := range cfg.Sections() {
			rc, err := remoteFromSection(cfg, name, scope)
			if err != nil {
				continue
			}
			out = append(out, rc)
		}
	}
	return out, nil
}

// GetRemote looks up a single remote by name within scope.
func GetRemote(name string, scope model.RemoteScope) (model.RemoteConfig, error) {
	cfg, err := readConfig(scope)
	if err != nil {
		return model.RemoteConfig{}, err
	}
	return remoteFromSection(cfg, name, scope)
}

// CreateRemote rejects a duplicate name within scope, then writes the
// config preserving every other remote's section verbatim.
func CreateRemote(rc model.RemoteConfig) error {
	cfg, err := readConfig(rc.Scope)
	if err != nil {
		return err
	}
	if _, err := cfg.Options(rc.Name); err == nil {
		return model.NewError(model.KindConflict, "remote %q already exists in %s scope", rc.Name, rc.Scope)
	}

	if err := cfg.AddSection(rc.Name); err != nil {
		return model.WrapError(model.KindOperationFailed, err, "adding section for remote %q", rc.Name)
	}
	if err := setRemoteOptions(cfg, rc); err != nil {
		return err
	}

	return writeConfig(rc.Scope, cfg)
}

// UpdateRemote replaces an existing remote's options wholesale.
func UpdateRemote(rc model.RemoteConfig) error {
	cfg, err := readConfig(rc.Scope)
	if err != nil {
		return err
	}
	oldOpts, err := cfg.Options(rc.Name)
	if err != nil {
		return model.NewError(model.KindDeviceNotFound, "no remote named %q", rc.Name)
	}
	for _, k := range oldOpts {
		cfg.RemoveOption(rc.Name, k)
	}

	if err := setRemoteOptions(cfg, rc); err != nil {
		return err
	}

	return writeConfig(rc.Scope, cfg)
}

func setRemoteOptions(cfg *goconfigparser.ConfigParser, rc model.RemoteConfig) error {
	if rc.RemoteType != "" {
		if err := cfg.Set(rc.Name, "type", rc.RemoteType); err != nil {
			return model.WrapError(model.KindOperationFailed, err, "setting type for remote %q", rc.Name)
		}
	}
	for k, v := range rc.Options {
		if err := cfg.Set(rc.Name, k, v); err != nil {
			return model.WrapError(model.KindOperationFailed, err, "setting option %q for remote %q", k, rc.Name)
		}
	}
	return nil
}

// DeleteRemote removes name's entire section from scope's config.
func DeleteRemote(name string, scope model.RemoteScope) error {
	cfg, err := readConfig(scope)
	if err != nil {
		return err
	}
	if _, err := cfg.Options(name); err != nil {
		return model.NewError(model.KindDeviceNotFound, "no remote named %q", name)
	}
	cfg.RemoveSection(name)
	return writeConfig(scope, cfg)
}

// RemoteTypeDescriptor is one entry of the static supported-type registry
// (§4.8's supported_remote_types).
type RemoteTypeDescriptor struct {
	Name           string
	RequiredFields []string
	OptionalFields []string
}

// SupportedRemoteTypes is the static provider registry used to validate
// create/update against the "type" field.
var SupportedRemoteTypes = []RemoteTypeDescriptor{
	{Name: "s3", RequiredFields: []string{"provider", "access_key_id", "secret_access_key", "region"}},
	{Name: "sftp", RequiredFields: []string{"host"}, OptionalFields: []string{"user", "port", "pass", "key_file"}},
	{Name: "drive", RequiredFields: []string{"token"}, OptionalFields: []string{"client_id", "client_secret"}},
	{Name: "webdav", RequiredFields: []string{"url"}, OptionalFields: []string{"user", "pass", "vendor"}},
	{Name: "ftp", RequiredFields: []string{"host"}, OptionalFields: []string{"user", "pass", "port"}},
}

// ValidateRemoteType checks that remoteType is known and that every
// required field for it is present in options.
func ValidateRemoteType(remoteType string, options map[string]string) error {
	for _, d := range SupportedRemoteTypes {
		if d.Name != remoteType {
			continue
		}
		for _, req := range d.RequiredFields {
			if _, ok := options[req]; !ok {
				return model.NewError(model.KindInvalidArgument, "remote type %q requires field %q", remoteType, req)
			}
		}
		return nil
	}
	return model.NewError(model.KindInvalidArgument, "unsupported remote type %q", remoteType)
}

// --- mount state machine -----------------------------------------------

// mountKey identifies one (name, scope) mount slot.
type mountKey struct {
	name  string
	scope model.RemoteScope
}

// Mounter runs the external rclone binary. The production implementation
// spawns `rclone mount` as a background process; tests substitute a fake.
type Mounter interface {
	Mount(ctx context.Context, remoteName, configPath, mountPoint string) error
	Unmount(ctx context.Context, mountPoint string) error
	Probe(ctx context.Context, remoteName, configPath string) (ok bool, message string, latency time.Duration)
}

// execMounter shells out to the rclone binary via the shared tool executor.
type execMounter struct {
	runner toolexec.Runner
}

func NewExecMounter(runner toolexec.Runner) Mounter {
	return &execMounter{runner: runner}
}

func (m *execMounter) Mount(ctx context.Context, remoteName, configPath, mountPoint string) error {
	_, err := toolexec.Exec(ctx, m.runner, "rclone", "mount",
		remoteName+":", mountPoint,
		"--config", configPath,
		"--daemon", "--vfs-cache-mode", "writes")
	return err
}

func (m *execMounter) Unmount(ctx context.Context, mountPoint string) error {
	_, err := toolexec.Exec(ctx, m.runner, "fusermount", "-u", mountPoint)
	return err
}

func (m *execMounter) Probe(ctx context.Context, remoteName, configPath string) (bool, string, time.Duration) {
	start := nowFunc()
	_, err := toolexec.Exec(ctx, m.runner, "rclone", "lsd", remoteName+":", "--config", configPath, "--max-depth", "1")
	elapsed := nowFunc().Sub(start)
	if err != nil {
		return false, err.Error(), elapsed
	}
	return true, "ok", elapsed
}

// nowFunc is a seam so callers can swap in a fake clock for deterministic
// latency reporting in tests.
var nowFunc = time.Now

// Controller owns the mount-state table and serializes operations per
// (name, scope) key while letting distinct keys run concurrently (§4.8).
type Controller struct {
	Mounter Mounter

	mu     sync.Mutex
	locks  map[mountKey]*sync.Mutex
	states map[mountKey]model.MountState

	watch tomb.Tomb
}

func NewController(mounter Mounter) *Controller {
	return &Controller{
		Mounter: mounter,
		locks:   make(map[mountKey]*sync.Mutex),
		states:  make(map[mountKey]model.MountState),
	}
}

// StartWatcher launches a background health-check loop, using tomb.Tomb to
// give the goroutine a clean, awaitable shutdown path. Every period it probes
// each currently-Mounted remote and flips it to Error if the probe fails, so
// a remote that silently died (network drop, killed rclone process) surfaces
// before the next explicit status query.
func (c *Controller) StartWatcher(period time.Duration) {
	c.watch.Go(func() error {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-c.watch.Dying():
				return nil
			case <-ticker.C:
				c.checkMountedRemotes()
			}
		}
	})
}

// StopWatcher signals the background watcher to exit and waits for it.
func (c *Controller) StopWatcher() error {
	c.watch.Kill(nil)
	return c.watch.Wait()
}

func (c *Controller) checkMountedRemotes() {
	c.mu.Lock()
	var mounted []mountKey
	for k, st := range c.states {
		if st.Status == model.StatusMounted {
			mounted = append(mounted, k)
		}
	}
	c.mu.Unlock()

	for _, k := range mounted {
		ok, msg, _ := c.Mounter.Probe(c.watch.Context(nil), k.name, configPath(k.scope))
		if !ok {
			c.setState(k, model.MountState{Status: model.StatusError, LastError: msg})
		}
	}
}

func (c *Controller) keyLock(k mountKey) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[k]
	if !ok {
		l = &sync.Mutex{}
		c.locks[k] = l
	}
	return l
}

func (c *Controller) getState(k mountKey) model.MountState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[k]
	if !ok {
		return model.MountState{Status: model.StatusUnmounted}
	}
	return st
}

func (c *Controller) setState(k mountKey, st model.MountState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[k] = st
}

// GetMountStatus returns name/scope's current state.
func (c *Controller) GetMountStatus(name string, scope model.RemoteScope) model.MountState {
	return c.getState(mountKey{name, scope})
}

// Mount transitions Unmounted -> Mounting -> Mounted (or Error on failure).
func (c *Controller) Mount(ctx context.Context, name string, scope model.RemoteScope) error {
	k := mountKey{name, scope}
	lock := c.keyLock(k)
	lock.Lock()
	defer lock.Unlock()

	c.setState(k, model.MountState{Status: model.StatusMounting})

	mountPoint := mountPointFor(scope, name)
	if err := c.Mounter.Mount(ctx, name, configPath(scope), mountPoint); err != nil {
		c.setState(k, model.MountState{Status: model.StatusError, LastError: err.Error()})
		return err
	}

	c.setState(k, model.MountState{Status: model.StatusMounted, MountPoint: mountPoint})
	return nil
}

// Unmount transitions Mounted -> Unmounting -> Unmounted; idempotent for an
// already-unmounted key.
func (c *Controller) Unmount(ctx context.Context, name string, scope model.RemoteScope) error {
	k := mountKey{name, scope}
	lock := c.keyLock(k)
	lock.Lock()
	defer lock.Unlock()

	st := c.getState(k)
	if st.Status == model.StatusUnmounted {
		return nil
	}

	c.setState(k, model.MountState{Status: model.StatusUnmounting, MountPoint: st.MountPoint})

	if err := c.Mounter.Unmount(ctx, st.MountPoint); err != nil {
		c.setState(k, model.MountState{Status: model.StatusError, LastError: err.Error()})
		return err
	}

	c.setState(k, model.MountState{Status: model.StatusUnmounted})
	return nil
}

// TestRemote probes connectivity and reports (success, message, latency).
func (c *Controller) TestRemote(ctx context.Context, name string, scope model.RemoteScope) (bool, string, time.Duration) {
	return c.Mounter.Probe(ctx, name, configPath(scope))
}

// RecoverErrorState retries an Error -> Unmounted transition with
// retry.v1's exponential backoff, bounded to a small attempt count, so a
// remote flapping on a transient network error does not wedge its key's
// lock indefinitely.
func (c *Controller) RecoverErrorState(ctx context.Context, name string, scope model.RemoteScope) error {
	k := mountKey{name, scope}
	lock := c.keyLock(k)
	lock.Lock()
	defer lock.Unlock()

	if c.getState(k).Status != model.StatusError {
		return nil
	}

	strategy := retry.LimitCount(5, retry.Exponential{
		Initial: 200 * time.Millisecond,
		Factor:  2,
	})

	var lastErr error
	for a := retry.Start(strategy, nil); a.Next(); {
		mountPoint := mountPointFor(scope, name)
		if err := c.Mounter.Unmount(ctx, mountPoint); err == nil {
			c.setState(k, model.MountState{Status: model.StatusUnmounted})
			return nil
		} else {
			lastErr = err
		}
	}

	return model.WrapError(model.KindOperationFailed, lastErr, "failed to recover mount state for %s/%s after retries", name, scope)
}
