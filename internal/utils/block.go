package utils

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParseBlockNumber parses a block number given in decimal or as 0x-prefixed hex.
// Surrounding quotes, as found in raw JSON values, are ignored.
func ParseBlockNumber(s string) (uint64, error) {
	s = strings.Trim(strings.TrimSpace(s), `"`)
	if s == "" {
		return 0, errors.New("block number is empty")
	}

	base := 10
	if rest, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		s, base = rest, 16
	}

	number, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, errors.WithMessage(err, "error parsing block number")
	}
	return number, nil
}

// ParsePeerAddress splits an "id@host:port" peer address.
func ParsePeerAddress(s string) (id, target string, err error) {
	id, target, ok := strings.Cut(s, "@")
	if !ok {
		return "", "", errors.Errorf("invalid peer address %q: expected id@host:port", s)
	}
	if id == "" || target == "" {
		return "", "", errors.Errorf("invalid peer address %q: empty id or target", s)
	}
	return id, target, nil
}
