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

	"github.com/godbus/dbus/v5"
	. "gopkg.in/check.v1"

	"github.com/rs/zerolog"

	"github.com/cosmic-utils/storage-serviced/internal/audit"
	"github.com/cosmic-utils/storage-serviced/internal/luks"
	"github.com/cosmic-utils/storage-serviced/internal/model"
	"github.com/cosmic-utils/storage-serviced/internal/partitionops"
	"github.com/cosmic-utils/storage-serviced/internal/udisks"
)

// fakeUDisksProvider feeds a broker's *udisks.Engine a scripted object graph
// for topology resolution, mirroring internal/udisks's own test fake.
type fakeUDisksProvider struct {
	objs udisks.RawObjects
}

func (f *fakeUDisksProvider) ManagedObjects(ctx context.Context) (udisks.RawObjects, error) {
	return f.objs, nil
}

func variant(v interface{}) dbus.Variant { return dbus.MakeVariant(v) }

// fakeRunner records cryptsetup invocations for luks.Controller. When order
// is non-nil, each Run call also appends a "lock:<mapper>" entry to it so a
// test can assert where a lock fell relative to other broker-driven calls.
type fakeRunner struct {
	calls []recordedRunnerCall
	order *[]string
}

type recordedRunnerCall struct {
	name string
	args []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	f.calls = append(f.calls, recordedRunnerCall{name, args})
	if f.order != nil && len(args) > 0 {
		*f.order = append(*f.order, "lock:"+args[len(args)-1])
	}
	return "", "", nil
}

type partitionsSuite struct {
	auditLog *audit.Log
	broker   *Broker
	provider *fakeBlockProvider
}

var _ = Suite(&partitionsSuite{})

// fakeBlockProvider records calls and lets a test script a failure for
// CreatePartitionAndFormat, DeletePartition or ResizePartition, mirroring
// partitionops' own internal test fake. When order is
// non-nil, UnmountFilesystem and DeletePartition also append to it so a test
// can assert the broker's call ordering across multiple controllers.
type fakeBlockProvider struct {
	createCalled bool
	createPath   string
	createErr    error
	deleteErr    error
	resizeErr    error
	formatCalls  []struct{ devicePath, fsType string }
	order        *[]string
}

func (f *fakeBlockProvider) CreatePartitionAndFormat(ctx context.Context, drive string, offset, size uint64, createOpts map[string]string, fsType string, formatOpts partitionops.FormatOptions) (string, error) {
	f.createCalled = true
	if f.createErr != nil {
		return "", f.createErr
	}
	if f.createPath != "" {
		return f.createPath, nil
	}
	return drive + "1", nil
}
func (f *fakeBlockProvider) DeletePartition(ctx context.Context, path string) error {
	if f.order != nil {
		*f.order = append(*f.order, "delete:"+path)
	}
	return f.deleteErr
}
func (f *fakeBlockProvider) SetPartitionType(ctx context.Context, path, typeID string) error {
	return nil
}
func (f *fakeBlockProvider) SetPartitionName(ctx context.Context, path, name string) error {
	return nil
}
func (f *fakeBlockProvider) SetPartitionFlags(ctx context.Context, path string, flags uint64) error {
	return nil
}
func (f *fakeBlockProvider) ResizePartition(ctx context.Context, path string, newSize uint64) error {
	return f.resizeErr
}
func (f *fakeBlockProvider) FormatBlock(ctx context.Context, path, fsType string, opts partitionops.FormatOptions) error {
	f.formatCalls = append(f.formatCalls, struct{ devicePath, fsType string }{path, fsType})
	return nil
}
func (f *fakeBlockProvider) MountFilesystem(ctx context.Context, path string, opts map[string]string) (string, error) {
	return "", nil
}
func (f *fakeBlockProvider) UnmountFilesystem(ctx context.Context, path string, force bool) error {
	if f.order != nil {
		*f.order = append(*f.order, "unmount:"+path)
	}
	return nil
}
func (f *fakeBlockProvider) SetLabel(ctx context.Context, path, label string) error { return nil }

func (s *partitionsSuite) SetUpTest(c *C) {
	log, err := audit.Open(filepath.Join(c.MkDir(), "audit.db"))
	c.Assert(err, IsNil)
	s.auditLog = log

	s.provider = &fakeBlockProvider{}
	s.broker = &Broker{
		Log:        zerolog.Nop(),
		Audit:      s.auditLog,
		Resolver:   &fakeResolver{caller: model.CallerInfo{UID: 0, Username: "root"}},
		Checker:    &fakeChecker{authorized: true},
		Partitions: partitionops.NewController(s.provider),
		UDisks:     udisks.NewEngine(&fakeUDisksProvider{objs: udisks.RawObjects{}}),
		Luks:       luks.NewController(&fakeRunner{}),
	}
}

func (s *partitionsSuite) TearDownTest(c *C) {
	c.Assert(s.auditLog.Close(), IsNil)
}

func (s *partitionsSuite) TestCreatePartitionTableRejectsUnknownTableType(c *C) {
	iface := &partitionsIface{b: s.broker}
	_, dbusErr := iface.CreatePartitionTable("/dev/sdb", "apm", "")
	c.Assert(dbusErr, NotNil)
	c.Check(dbusErr.Name, Equals, "org.cosmic.StorageServiced.Error.InvalidArgument")
}

func (s *partitionsSuite) TestCreatePartitionTableFormatsAndSucceeds(c *C) {
	iface := &partitionsIface{b: s.broker}
	_, dbusErr := iface.CreatePartitionTable("/dev/sdb", "gpt", "")
	c.Assert(dbusErr, IsNil)
	c.Assert(s.provider.formatCalls, HasLen, 1)
	c.Check(s.provider.formatCalls[0].devicePath, Equals, "/dev/sdb")
	c.Check(s.provider.formatCalls[0].fsType, Equals, "gpt")
}

func (s *partitionsSuite) TestCreatePartitionAndFormatDecodesRequestAndReturnsPath(c *C) {
	s.provider.createPath = "/dev/sdb1"
	iface := &partitionsIface{b: s.broker}

	reqJSON := `{"drive_device_path":"/dev/sdb","table_type":"gpt","offset":1048576,"size":1000,` +
		`"type_id":"0fc63daf-8483-4772-8e79-3d69d8477de4","name":"data","filesystem_type":"ext4",` +
		`"erase":false,"label":"DATA"}`
	payload, dbusErr := iface.CreatePartitionAndFormat(reqJSON, "")
	c.Assert(dbusErr, IsNil)
	c.Check(payload, Equals, `{"partition_device_path":"/dev/sdb1"}`)
	c.Check(s.provider.createCalled, Equals, true)
}

func (s *partitionsSuite) TestCreatePartitionAndFormatRejectsInvalidJSON(c *C) {
	iface := &partitionsIface{b: s.broker}
	_, dbusErr := iface.CreatePartitionAndFormat("not json", "")
	c.Assert(dbusErr, NotNil)
	c.Check(dbusErr.Name, Equals, "org.cosmic.StorageServiced.Error.InvalidArgument")
	c.Check(s.provider.createCalled, Equals, false)
}

func (s *partitionsSuite) TestDeletePartitionPropagatesProviderError(c *C) {
	s.provider.deleteErr = model.NewError(model.KindOperationFailed, "device busy")
	iface := &partitionsIface{b: s.broker}
	_, dbusErr := iface.DeletePartition("/dev/sdb1", "")
	c.Assert(dbusErr, NotNil)
	c.Check(dbusErr.Name, Equals, "org.cosmic.StorageServiced.Error.OperationFailed")
}

func (s *partitionsSuite) TestResizePartitionSucceeds(c *C) {
	iface := &partitionsIface{b: s.broker}
	_, dbusErr := iface.ResizePartition("/dev/sdb1", 2048, "")
	c.Assert(dbusErr, IsNil)
}

// buildEncryptedPartitionFixture builds a one-drive object graph where
// partition /dev/sda1 is an unlocked LUKS container whose cleartext mapping
// /dev/mapper/cryptdata is mounted at /mnt/data, for exercising §8 Scenario
// 4's unmount-then-lock-then-delete ordering.
func buildEncryptedPartitionFixture() udisks.RawObjects {
	const (
		drivePath  = "/org/freedesktop/UDisks2/drives/disk1"
		tablePath  = "/org/freedesktop/UDisks2/block_devices/sda"
		partPath   = "/org/freedesktop/UDisks2/block_devices/sda1"
		mapperPath = "/org/freedesktop/UDisks2/block_devices/dm-0"
	)
	return udisks.RawObjects{
		dbus.ObjectPath(drivePath): {
			"org.freedesktop.UDisks2.Drive": {
				"Model": variant("Encrypted Disk"),
				"Size":  variant(uint64(1_000_000_000)),
			},
		},
		dbus.ObjectPath(tablePath): {
			"org.freedesktop.UDisks2.Block": {
				"Drive":  variant(drivePath),
				"Device": variant("/dev/sda"),
			},
			"org.freedesktop.UDisks2.PartitionTable": {
				"Type": variant("gpt"),
			},
		},
		dbus.ObjectPath(partPath): {
			"org.freedesktop.UDisks2.Block": {
				"Device": variant("/dev/sda1"),
			},
			"org.freedesktop.UDisks2.Partition": {
				"Table":  variant(tablePath),
				"Number": variant(uint64(1)),
			},
			"org.freedesktop.UDisks2.Encrypted": {},
		},
		dbus.ObjectPath(mapperPath): {
			"org.freedesktop.UDisks2.Block": {
				"Device":              variant("/dev/mapper/cryptdata"),
				"CryptoBackingDevice": variant(partPath),
			},
			"org.freedesktop.UDisks2.Filesystem": {
				"MountPoints": variant([][]byte{[]byte("/mnt/data\x00")}),
			},
		},
	}
}

// TestDeletePartitionUnmountsLocksThenDeletes asserts the exact call order
// §8 Scenario 4 requires for deleting an unlocked container with a mounted
// cleartext child: unmount the child's mount, lock the container, then
// delete the partition, in that order.
func (s *partitionsSuite) TestDeletePartitionUnmountsLocksThenDeletes(c *C) {
	var order []string
	s.provider.order = &order
	runner := &fakeRunner{order: &order}

	s.broker.UDisks = udisks.NewEngine(&fakeUDisksProvider{objs: buildEncryptedPartitionFixture()})
	s.broker.Luks = luks.NewController(runner)

	iface := &partitionsIface{b: s.broker}
	_, dbusErr := iface.DeletePartition("/dev/sda1", "")
	c.Assert(dbusErr, IsNil)

	c.Assert(order, DeepEquals, []string{
		"unmount:/dev/mapper/cryptdata",
		"lock:cryptdata",
		"delete:/dev/sda1",
	})
}
