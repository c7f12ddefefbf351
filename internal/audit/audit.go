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

// Package audit is the bbolt-backed operation log (§4.12): every completed
// mutating broker call is appended with an auto-incrementing sequence
// number, for operator troubleshooting only.
package audit

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cosmic-utils/storage-serviced/internal/model"
)

var bucketRecords = []byte("audit")

// Log is an opened audit database.
type Log struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt file at path and ensures the
// records bucket exists.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, model.WrapError(model.KindOperationFailed, err, "creating audit db directory")
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, model.WrapError(model.KindOperationFailed, err, "opening audit db %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	})
	if err != nil {
		db.Close()
		return nil, model.WrapError(model.KindOperationFailed, err, "initializing audit bucket")
	}

	return &Log{db: db}, nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

// Append writes rec under the bucket's next auto-incrementing sequence
// number and returns the assigned sequence.
func (l *Log) Append(rec model.AuditRecord) (uint64, error) {
	var seq uint64
	err := l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		next, err := b.NextSequence()
		if err != nil {
			return err
		}
		seq = next
		rec.Sequence = seq

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
	if err != nil {
		return 0, model.WrapError(model.KindOperationFailed, err, "appending audit record")
	}
	return seq, nil
}

// Tail returns up to limit of the most recently appended records, newest
// first. A limit of 0 returns every record.
func (l *Log) Tail(limit int) ([]model.AuditRecord, error) {
	var out []model.AuditRecord
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec model.AuditRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, model.WrapError(model.KindOperationFailed, err, "reading audit records")
	}
	return out, nil
}

func seqKey(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}
