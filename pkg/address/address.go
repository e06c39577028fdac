// Package address validates recipient wallet addresses before any intent
// record is created.
package address

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Validate reports whether s is a well-formed EVM address. All-lowercase and
// all-uppercase hex are accepted; mixed-case addresses must carry a valid
// EIP-55 checksum.
func Validate(s string) bool {
	if !common.IsHexAddress(s) {
		return false
	}

	hexPart := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if hexPart == strings.ToLower(hexPart) || hexPart == strings.ToUpper(hexPart) {
		return true
	}

	// Mixed case: compare against the canonical checksummed form
	return common.HexToAddress(s).Hex() == "0x"+hexPart
}
