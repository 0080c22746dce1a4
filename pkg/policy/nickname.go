// Package policy handles forwarding address and nickname rules.
package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// Nickname length limits for forwarding addresses.
const (
	MinNicknameLen = 3
	MaxNicknameLen = 30
)

// nicknameRegex accepts lowercase alphanumeric runs where each interior
// hyphen or underscore is immediately followed by an alphanumeric. Length
// limits are checked separately.
var nicknameRegex = regexp.MustCompile(`^[a-z0-9](?:[-_]?[a-z0-9])*$`)

// ValidNickname reports whether name may be used as the local part of a
// forwarding address.
func ValidNickname(name string) bool {
	if len(name) < MinNicknameLen || len(name) > MaxNicknameLen {
		return false
	}
	return nicknameRegex.MatchString(name)
}

// ParseAddress splits an email address into local and domain parts.  The
// domain part is optional; bare local parts are accepted the way most MTAs
// accept them for local delivery.
func ParseAddress(address string) (local string, domain string, err error) {
	if address == "" {
		return "", "", fmt.Errorf("empty address")
	}
	if len(address) > 320 {
		return "", "", fmt.Errorf("address exceeds 320 characters")
	}
	local = address
	if idx := strings.IndexByte(address, '@'); idx >= 0 {
		local = address[:idx]
		domain = address[idx+1:]
		if strings.ContainsRune(domain, '@') {
			return "", "", fmt.Errorf("multiple @ symbols in address")
		}
	}
	if local == "" {
		return "", "", fmt.Errorf("address cannot start with @ symbol")
	}
	if local[0] == '.' || local[len(local)-1] == '.' {
		return "", "", fmt.Errorf("local part cannot start or end with a period")
	}
	if strings.Contains(local, "..") {
		return "", "", fmt.Errorf("sequence of periods is not permitted")
	}
	for i := 0; i < len(local); i++ {
		c := local[i]
		switch {
		case 'a' <= c && c <= 'z':
		case 'A' <= c && c <= 'Z':
		case '0' <= c && c <= '9':
		case strings.IndexByte("!#$%&'*+-/=?^_`.{|}~", c) >= 0:
		default:
			return "", "", fmt.Errorf("character %q must be quoted", c)
		}
	}
	return local, domain, nil
}

// ExtractNickname returns the lowercased local part of address, the key used
// for registry lookups.
func ExtractNickname(address string) (string, error) {
	local, _, err := ParseAddress(address)
	if err != nil {
		return "", err
	}
	return strings.ToLower(local), nil
}
