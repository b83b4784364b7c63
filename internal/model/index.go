package model

import "strconv"

// OplogIndex is a position in a worker's oplog.
type OplogIndex uint64

const (
	// NoneIndex marks the absence of an entry.
	NoneIndex OplogIndex = 0

	// InitialIndex is the index of the Create entry of every oplog.
	InitialIndex OplogIndex = 1
)

// Next returns the following index.
func (i OplogIndex) Next() OplogIndex {
	return i + 1
}

// Previous returns the preceding index, saturating at NoneIndex.
func (i OplogIndex) Previous() OplogIndex {
	if i == NoneIndex {
		return NoneIndex
	}
	return i - 1
}

// Subtract moves back n positions, saturating at NoneIndex.
func (i OplogIndex) Subtract(n uint64) OplogIndex {
	if uint64(i) < n {
		return NoneIndex
	}
	return i - OplogIndex(n)
}

// RangeEnd returns the last index of the n-entry range starting at i.
func (i OplogIndex) RangeEnd(n uint64) OplogIndex {
	if n == 0 {
		return i.Previous()
	}
	return i + OplogIndex(n) - 1
}

// IsNone reports whether i is NoneIndex.
func (i OplogIndex) IsNone() bool {
	return i == NoneIndex
}

func (i OplogIndex) String() string {
	return strconv.FormatUint(uint64(i), 10)
}

// OplogRegion is an inclusive range of indices skipped by a Jump.
type OplogRegion struct {
	Start OplogIndex `json:"start"`
	End   OplogIndex `json:"end"`
}

// Contains reports whether idx lies inside the region.
func (r OplogRegion) Contains(idx OplogIndex) bool {
	return idx >= r.Start && idx <= r.End
}
