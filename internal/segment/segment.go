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

// Package segment computes, from a disk's size, table type, GPT usable
// range, and extant partitions, the ordered sequence of on-disk segments
// (§4.3). It is the data model every client uses to reason about "where can
// I create a partition".
package segment

import (
	"math"
	"sort"

	"github.com/cosmic-utils/storage-serviced/internal/model"
)

const (
	tinyFreeThreshold  = 10 * 1024 * 1024  // 10 MiB
	smallDriveThreshold = 100 * 1024 * 1024 // 100 MiB
)

// PartitionExtent is the minimal shape the calculator needs per partition.
type PartitionExtent struct {
	DevicePath string
	Offset     uint64
	Size       uint64
}

// Anomaly records a partition the calculator had to skip or clamp.
type Anomaly struct {
	DevicePath string
	Reason     string
}

// Compute returns the ordered segment list covering [0, diskSize) plus any
// anomalies observed while walking the (already unordered) partition list.
// usable may be nil (no GPT usable range — the whole disk is reserved-free).
func Compute(diskSize uint64, partitions []PartitionExtent, usable *model.ByteRange) ([]model.DiskSegment, []Anomaly) {
	sorted := make([]PartitionExtent, len(partitions))
	copy(sorted, partitions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	var anomalies []Anomaly
	clamped := make([]PartitionExtent, 0, len(sorted))
	var prevEnd uint64
	for _, p := range sorted {
		end := p.Offset + p.Size
		if p.Offset > diskSize {
			anomalies = append(anomalies, Anomaly{p.DevicePath, "partition starts past disk end"})
			continue
		}
		if end > diskSize {
			anomalies = append(anomalies, Anomaly{p.DevicePath, "partition ends past disk end"})
			end = diskSize
		}
		if len(clamped) > 0 && p.Offset < prevEnd {
			anomalies = append(anomalies, Anomaly{p.DevicePath, "partition overlaps previous partition"})
			continue
		}
		clamped = append(clamped, PartitionExtent{p.DevicePath, p.Offset, end - p.Offset})
		prevEnd = end
	}

	uStart, uEnd := uint64(0), uint64(0)
	haveUsable := usable != nil
	if haveUsable {
		uStart = usable.Start
		if uStart > diskSize {
			uStart = diskSize
		}
		uEnd = usable.End
		if uEnd > diskSize {
			uEnd = diskSize
		}
	}

	var segs []model.DiskSegment
	cursor := uint64(0)
	idx := 0
	for cursor < diskSize {
		var nextPartOffset uint64 = diskSize
		if idx < len(clamped) {
			nextPartOffset = clamped[idx].Offset
		}

		switch {
		case haveUsable && cursor >= uStart && cursor < uEnd && idx < len(clamped) && clamped[idx].Offset == cursor:
			p := clamped[idx]
			segs = append(segs, model.DiskSegment{Kind: model.SegmentPartition, PartitionPath: p.DevicePath, Offset: p.Offset, Size: p.Size})
			cursor += p.Size
			idx++

		case haveUsable && cursor < uStart:
			end := min3(uStart, nextPartOffset, diskSize)
			segs = append(segs, model.DiskSegment{Kind: model.SegmentReserved, Offset: cursor, Size: end - cursor})
			cursor = end

		case haveUsable && cursor >= uEnd:
			segs = append(segs, model.DiskSegment{Kind: model.SegmentReserved, Offset: cursor, Size: diskSize - cursor})
			cursor = diskSize

		case haveUsable:
			end := min2(nextPartOffset, uEnd)
			segs = append(segs, model.DiskSegment{Kind: model.SegmentFreeSpace, Offset: cursor, Size: end - cursor})
			cursor = end

		default:
			// No usable range at all: no reserved bands, so every byte
			// outside an extant partition is free space.
			if idx < len(clamped) && clamped[idx].Offset == cursor {
				p := clamped[idx]
				segs = append(segs, model.DiskSegment{Kind: model.SegmentPartition, PartitionPath: p.DevicePath, Offset: p.Offset, Size: p.Size})
				cursor += p.Size
				idx++
			} else {
				end := min2(nextPartOffset, diskSize)
				segs = append(segs, model.DiskSegment{Kind: model.SegmentFreeSpace, Offset: cursor, Size: end - cursor})
				cursor = end
			}
		}
	}

	segs = mergeAdjacentReserved(segs)
	segs = promoteTinyFreeSpace(segs, diskSize, len(clamped) > 0)
	assignWeights(segs, diskSize)

	return segs, anomalies
}

func min2(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func min3(a, b, c uint64) uint64 {
	return min2(min2(a, b), c)
}

func mergeAdjacentReserved(in []model.DiskSegment) []model.DiskSegment {
	out := make([]model.DiskSegment, 0, len(in))
	for _, seg := range in {
		if n := len(out); n > 0 && out[n-1].Kind == model.SegmentReserved && seg.Kind == model.SegmentReserved {
			out[n-1].Size += seg.Size
			continue
		}
		out = append(out, seg)
	}
	return out
}

// promoteTinyFreeSpace converts FreeSpace segments smaller than
// tinyFreeThreshold to Reserved when the drive has any partition and is at
// least smallDriveThreshold in size — alignment/reserved slack that users
// cannot usefully target. Small or empty drives keep their tiny free spaces.
func promoteTinyFreeSpace(in []model.DiskSegment, diskSize uint64, hasAnyPartition bool) []model.DiskSegment {
	if !hasAnyPartition || diskSize < smallDriveThreshold {
		return in
	}
	for i := range in {
		if in[i].Kind == model.SegmentFreeSpace && in[i].Size < tinyFreeThreshold {
			in[i].Kind = model.SegmentReserved
		}
	}
	return mergeAdjacentReserved(in)
}

// assignWeights computes each segment's display weight:
// max(1, ceil(log10(1000 * size / total))) — kept purely so renderers share
// the same proportional logic.
func assignWeights(segs []model.DiskSegment, total uint64) {
	if total == 0 {
		return
	}
	for i := range segs {
		ratio := 1000.0 * float64(segs[i].Size) / float64(total)
		w := int(math.Ceil(math.Log10(ratio)))
		if w < 1 {
			w = 1
		}
		segs[i].Weight = w
	}
}
