// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package etf

import (
	"github.com/dchest/siphash"
)

// Hash128 hashes the canonical encoding of t.
// Terms that are Equal hash identically, so the result
// is usable as map-key material for term-keyed tables.
// Hashing an unencodable term (a pattern variable or an
// uninitialized composite) returns ErrBadArgument.
func (t Term) Hash128(k0, k1 uint64) (uint64, uint64, error) {
	var b Buffer
	if err := Encode(&b, t); err != nil {
		return 0, 0, err
	}
	lo, hi := siphash.Hash128(k0, k1, b.Bytes())
	return lo, hi, nil
}
