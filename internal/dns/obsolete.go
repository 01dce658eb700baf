// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dns

// obsoleteTypes is the set of DNS record types considered obsolete by the
// relevant IANA registries (spec.md §4.7.7). Held as a read-only map owned
// by the package instead of a process-wide C table, per the "global-ish
// state -> dependency injection" design note.
var obsoleteTypes = buildObsoleteTypes()

func buildObsoleteTypes() map[uint16]bool {
	ranges := [][2]uint16{
		{3, 4},
		{7, 11},
		{13, 14},
		{17, 27},
		{30, 34},
		{38, 38},
		{40, 40},
		{42, 42},
		{56, 58},
		{99, 107},
		{253, 254},
		{259, 259},
	}
	set := make(map[uint16]bool)
	for _, r := range ranges {
		for t := r[0]; t <= r[1]; t++ {
			set[t] = true
		}
	}
	return set
}

// isObsoleteType reports whether t is a record type flagged obsolete.
func isObsoleteType(t uint16) bool {
	return obsoleteTypes[t]
}
