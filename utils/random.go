package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// GenerateCode returns n random bytes as an uppercase hex string.
func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)

	if _, err := rand.Read(byt); err != nil {
		return "", err
	}

	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

// GenerateTicketToken builds the short display token a venue calls out,
// e.g. "W-3F9A2C".
func GenerateTicketToken() (string, error) {
	code, err := GenerateCode(3)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("W-%s", code), nil
}
