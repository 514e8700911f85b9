package models

import "fmt"

const MaxUserIDLength = 128

// User is a registered identity with a display name used by search.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ValidateUserID checks that id is usable as a key segment.
func ValidateUserID(id string) error {
	if id == "" {
		return fmt.Errorf("user id is required")
	}
	if len(id) > MaxUserIDLength {
		return fmt.Errorf("user id longer than %d characters", MaxUserIDLength)
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '@', c == '-':
		default:
			return fmt.Errorf("user id contains invalid character %q", c)
		}
	}
	return nil
}
