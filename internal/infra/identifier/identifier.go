// Package identifier allocates public business identifiers: a registry
// prefix followed by a seven digit sequence number.
package identifier

import (
	"context"
	"fmt"
	"strconv"

	"entityfiler/pkg/domain"
)

// Digits is the width of the sequence part of an identifier.
const Digits = 7

const maxSequence = 9_999_999

// Prefix returns the identifier prefix for a legal type. BC companies of
// every flavour share the BC sequence and firms share FM.
func Prefix(legalType string) (string, error) {
	switch legalType {
	case domain.LegalTypeBC, domain.LegalTypeBenefit, domain.LegalTypeULC, domain.LegalTypeCCC:
		return "BC", nil
	case domain.LegalTypeCoop:
		return "CP", nil
	case domain.LegalTypeSoleProp, domain.LegalTypePartnership:
		return "FM", nil
	}
	return "", fmt.Errorf("no identifier sequence for legal type %q", legalType)
}

// Format renders prefix and sequence number as an identifier.
func Format(prefix string, n int64) (string, error) {
	if n <= 0 || n > maxSequence {
		return "", fmt.Errorf("sequence %d out of range for %s", n, prefix)
	}
	return fmt.Sprintf("%s%0*d", prefix, Digits, n), nil
}

// Parse splits an identifier into its letter prefix and sequence number.
func Parse(identifier string) (string, int64, bool) {
	if len(identifier) <= Digits {
		return "", 0, false
	}
	cut := len(identifier) - Digits
	prefix := identifier[:cut]
	for _, r := range prefix {
		if r < 'A' || r > 'Z' {
			return "", 0, false
		}
	}
	n, err := strconv.ParseInt(identifier[cut:], 10, 64)
	if err != nil || n <= 0 {
		return "", 0, false
	}
	return prefix, n, true
}

// Seeder is implemented by allocators whose sequences can be raised to
// follow identifiers issued before the process started.
type Seeder interface {
	Seed(ctx context.Context, prefix string, last int64) error
}

// SeedFrom raises every sequence of s past the highest identifier among
// businesses. It returns the highest sequence seen per prefix.
func SeedFrom(ctx context.Context, s Seeder, businesses []domain.Business) (map[string]int64, error) {
	highest := make(map[string]int64)
	for _, b := range businesses {
		prefix, n, ok := Parse(b.Identifier)
		if !ok {
			continue
		}
		if n > highest[prefix] {
			highest[prefix] = n
		}
	}
	for prefix, last := range highest {
		if err := s.Seed(ctx, prefix, last); err != nil {
			return nil, err
		}
	}
	return highest, nil
}
