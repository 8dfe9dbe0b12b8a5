// Copyright 2026 The dynashard Authors
// This file is part of the dynashard library.
//
// The dynashard library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The dynashard library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the dynashard library. If not, see <http://www.gnu.org/licenses/>.

package extent

// LayoutPolicy selects how shards accumulate within and cascade between
// levels.
type LayoutPolicy int

const (
	Tiering LayoutPolicy = iota
	Leveling
	BSM
)

func (p LayoutPolicy) String() string {
	switch p {
	case Tiering:
		return "tiering"
	case Leveling:
		return "leveling"
	case BSM:
		return "bsm"
	default:
		return "unknown"
	}
}

// DeletePolicy selects how erase is realized.
type DeletePolicy int

const (
	TombstonePolicy DeletePolicy = iota
	TaggingPolicy
)

func (p DeletePolicy) String() string {
	switch p {
	case TombstonePolicy:
		return "tombstone"
	case TaggingPolicy:
		return "tagging"
	default:
		return "unknown"
	}
}
