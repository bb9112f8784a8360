// Package ilp implements the Interledger packet types (Prepare, Fulfill,
// Reject) carried opaquely inside BTP frames, and their binary encoding.
package ilp

import (
	"fmt"
	"regexp"
)

// addressPattern matches an RFC-0015 ILP address: one allocation-scheme
// segment (g, private, example, peer, self, test, test1-test3, local)
// followed by one or more further segments, dot-separated, each further
// segment drawn from [A-Za-z0-9_~-].
var addressPattern = regexp.MustCompile(`^(g|private|example|peer|self|test[1-3]?|local)([.][A-Za-z0-9_~-]+)+$`)

// MaxAddressLength is the maximum length of an ILP address per RFC-0015.
const MaxAddressLength = 1023

// ValidateAddress reports whether addr is a well-formed ILP address.
func ValidateAddress(addr string) error {
	if len(addr) == 0 {
		return fmt.Errorf("ilp address is empty")
	}
	if len(addr) > MaxAddressLength {
		return fmt.Errorf("ilp address exceeds %d characters", MaxAddressLength)
	}
	if !addressPattern.MatchString(addr) {
		return fmt.Errorf("ilp address %q does not match RFC-0015 grammar", addr)
	}
	return nil
}
