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
	"context"
	"io"
	"os"

	"github.com/cosmic-utils/storage-serviced/internal/model"
)

// imageCopyChunk is the read/write granularity for CreateImage; large enough
// to amortize syscall overhead, small enough to keep progress reporting
// responsive.
const imageCopyChunk = 4 * 1024 * 1024

// ProgressFunc receives running totals as CreateImage copies; total may be 0
// when the source size is unknown.
type ProgressFunc func(copied, total uint64)

// CreateImage dumps src (a block device or partition) to a sparse file at
// dst, reporting progress via onProgress (may be nil). It returns the number
// of bytes copied. Cancellation of ctx stops the copy and returns
// ctx.Err() wrapped as Cancelled.
func CreateImage(ctx context.Context, src, dst string, size uint64, onProgress ProgressFunc) (uint64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, model.WrapError(model.KindOperationFailed, err, "opening source %s", src)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, model.WrapError(model.KindOperationFailed, err, "creating image %s", dst)
	}
	defer out.Close()

	if size > 0 {
		if err := out.Truncate(int64(size)); err != nil {
			return 0, model.WrapError(model.KindOperationFailed, err, "preallocating sparse image %s", dst)
		}
	}

	buf := make([]byte, imageCopyChunk)
	var copied uint64
	for {
		select {
		case <-ctx.Done():
			return copied, model.WrapError(model.KindCancelled, ctx.Err(), "create_image cancelled after %d bytes", copied)
		default:
		}

		n, readErr := in.Read(buf)
		if n > 0 {
			if _, writeErr := out.WriteAt(buf[:n], int64(copied)); writeErr != nil {
				return copied, model.WrapError(model.KindOperationFailed, writeErr, "writing image %s", dst)
			}
			copied += uint64(n)
			if onProgress != nil {
				onProgress(copied, size)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return copied, model.WrapError(model.KindOperationFailed, readErr, "reading source %s", src)
		}
	}

	return copied, nil
}
