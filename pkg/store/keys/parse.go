package keys

import (
	"fmt"
	"strconv"
	"strings"
)

func parsePaddedUint(s string, width int) (uint64, error) {
	if len(s) == 0 || len(s) > width {
		return 0, fmt.Errorf("length invalid: %s", s)
	}
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		return 0, nil
	}
	return strconv.ParseUint(trimmed, 10, 64)
}

// ParseID decodes a padded id as stored in keys and index values.
func ParseID(s string) (uint64, error) {
	return parsePaddedUint(s, IDPadWidth)
}

// ParseTrailingID returns the id in the last segment of an index key.
func ParseTrailingID(key string) (uint64, error) {
	i := strings.LastIndexByte(key, ':')
	if i < 0 {
		return 0, fmt.Errorf("key has no id segment: %s", key)
	}
	return ParseID(key[i+1:])
}

// PendingSeenParts is the decoded form of a pending-seen index key.
type PendingSeenParts struct {
	Receiver string
	Sender   string
	ID       uint64
}

func ParsePendingSeenKey(key string) (*PendingSeenParts, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 5 || parts[0] != "idx" || parts[1] != "ps" {
		return nil, fmt.Errorf("invalid pending seen key: %s", key)
	}
	id, err := ParseID(parts[4])
	if err != nil {
		return nil, fmt.Errorf("invalid pending seen key %s: %w", key, err)
	}
	return &PendingSeenParts{Receiver: parts[2], Sender: parts[3], ID: id}, nil
}

// ParsePartnerKey returns user and partner from idx:p:<user>:<partner>.
func ParsePartnerKey(key string) (user, partner string, err error) {
	parts := strings.Split(key, ":")
	if len(parts) != 4 || parts[0] != "idx" || parts[1] != "p" {
		return "", "", fmt.Errorf("invalid partner key: %s", key)
	}
	return parts[2], parts[3], nil
}

// ParseUserKey returns the user id from u:<user>.
func ParseUserKey(key string) (string, error) {
	if !strings.HasPrefix(key, userPrefix) || len(key) == len(userPrefix) {
		return "", fmt.Errorf("invalid user key: %s", key)
	}
	return key[len(userPrefix):], nil
}
