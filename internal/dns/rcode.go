// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dns

import "strconv"

// rcodeNames maps the low 4 bits of the flags field to its RFC mnemonic
// (spec.md §4.7.4). Codes outside the table print as their decimal value.
var rcodeNames = map[uint8]string{
	1: "FORMERR",
	2: "SERVFAIL",
	3: "NXDOMAIN",
	4: "NOTIMP",
	5: "REFUSED",
	6: "YXDOMAIN",
	7: "XRRSET",
	8: "NOTAUTH",
	9: "NOTZONE",
}

// rcodeName returns the mnemonic for code, or its decimal value if unknown.
func rcodeName(code uint8) string {
	if name, ok := rcodeNames[code]; ok {
		return name
	}
	return strconv.Itoa(int(code))
}
