package textproc

import (
	"github.com/satriahrh/narrasi/domain/entities"
)

const (
	DefaultMinChunkLength = 3
	DefaultMaxChunkLength = 300
)

// Limits bounds the length of a chunk the worker accepts
type Limits struct {
	MinLength int
	MaxLength int
}

// DefaultLimits returns the limits used when none are configured
func DefaultLimits() Limits {
	return Limits{MinLength: DefaultMinChunkLength, MaxLength: DefaultMaxChunkLength}
}

// Validate reports why the worker cannot reliably pronounce chunk, or nil
func Validate(chunk string, limits Limits) error {
	if chunk == "" {
		return entities.NewValidationError("chunk is empty")
	}
	if limits.MinLength > 0 && len(chunk) < limits.MinLength {
		return entities.NewValidationError("chunk is %d characters, minimum is %d", len(chunk), limits.MinLength)
	}
	if limits.MaxLength > 0 && len(chunk) > limits.MaxLength {
		return entities.NewValidationError("chunk is %d characters, maximum is %d", len(chunk), limits.MaxLength)
	}

	alphanumeric := false
	for i := 0; i < len(chunk); i++ {
		c := chunk[i]
		if c >= 0x80 {
			return entities.NewValidationError("chunk contains a non-ASCII byte at offset %d", i)
		}
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			alphanumeric = true
		}
	}
	if !alphanumeric {
		return entities.NewValidationError("chunk has no alphanumeric character")
	}
	return nil
}

// IsValid is Validate as a predicate
func IsValid(chunk string, limits Limits) bool {
	return Validate(chunk, limits) == nil
}
