package idgen

import (
	"github.com/google/uuid"
)

// ID prefixes for different models
const (
	PrefixRecord  = "flt_"
	PrefixRequest = "req_"
)

// NewRecord generates a stored fault record ID with flt_ prefix
func NewRecord() string {
	return PrefixRecord + uuid.New().String()
}

// NewRequest generates a gateway request ID with req_ prefix
func NewRequest() string {
	return PrefixRequest + uuid.New().String()
}

// New generates a generic UUID without prefix (for internal use only)
func New() string {
	return uuid.New().String()
}
