package service

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

const (
	defaultCodePrefix = "ORD-"
	codeSuffixLen     = 8
	maxCodeAttempts   = 5
)

// newOrderCode returns prefix followed by random uppercase hex.
func newOrderCode(prefix string) string {
	u := uuid.New()
	return prefix + strings.ToUpper(hex.EncodeToString(u[:])[:codeSuffixLen])
}
