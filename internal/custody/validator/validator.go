// Package validator provides syntactic validation of withdrawal addresses
package validator

import (
	"regexp"

	"github.com/orbitax/custody/internal/custody/interfaces"
)

// rule describes the accepted shape of an address for one asset class
type rule struct {
	minLength int
	maxLength int
	pattern   *regexp.Regexp
}

var rules = map[interfaces.Asset]*rule{
	interfaces.AssetBTC: {
		minLength: 26,
		maxLength: 62,
		pattern:   regexp.MustCompile(`^[13][a-km-zA-HJ-NP-Z1-9]{25,34}$|^bc1[a-z0-9]{39,59}$`),
	},
	interfaces.AssetETH: {
		minLength: 42,
		maxLength: 42,
		pattern:   regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`),
	},
	interfaces.AssetUSDC: {
		minLength: 42,
		maxLength: 42,
		pattern:   regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`),
	},
	interfaces.AssetUSDT: {
		minLength: 42,
		maxLength: 42,
		pattern:   regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`),
	},
}

// Validate reports whether the address is syntactically valid for the asset
// class. Unknown asset classes fail closed. The check is purely syntactic;
// chain/network selection is not a concern here.
func Validate(address string, asset interfaces.Asset) bool {
	r, ok := rules[asset]
	if !ok {
		return false
	}
	if len(address) < r.minLength || len(address) > r.maxLength {
		return false
	}
	return r.pattern.MatchString(address)
}
