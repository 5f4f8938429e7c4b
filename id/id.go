// Package id provides the built-in identifier kinds for lockstore item
// types: random tokens, sequential integers, and externally-sourced values.
//
// Each kind is a plain comparable value plus a companion scheme implementing
// storage.Scheme. New kinds are added by library consumers the same way:
// define a value type and a scheme for it, no registration needed.
package id

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/xid"

	"pkt.systems/lockstore/storage"
)

// Random is a collision-resistant random identifier. Values are xid tokens:
// 20 characters, sortable by creation time, unique without coordination.
type Random string

func (r Random) String() string { return string(r) }

// RandomIDs returns the scheme for Random identifiers.
func RandomIDs() RandomScheme { return RandomScheme{} }

// RandomScheme implements storage.Scheme for Random.
type RandomScheme struct{}

func (RandomScheme) Parse(text string) (Random, error) {
	if _, err := xid.FromString(text); err != nil {
		return "", fmt.Errorf("%w: random id %q: %v", storage.ErrInvalidFormat, text, err)
	}
	return Random(text), nil
}

func (RandomScheme) ValidFormat(text string) bool {
	_, err := xid.FromString(text)
	return err == nil
}

// Generate mints a fresh token; the previous hint is irrelevant for random
// identifiers and ignored.
func (RandomScheme) Generate(_ *Random) (Random, error) {
	return Random(xid.New().String()), nil
}

func (RandomScheme) Text(id Random) string { return string(id) }

func (RandomScheme) Compare(a, b Random) int { return strings.Compare(string(a), string(b)) }

// Sequential is a monotonically increasing numeric identifier starting at 1.
type Sequential uint64

func (s Sequential) String() string { return strconv.FormatUint(uint64(s), 10) }

// SequentialIDs returns the scheme for Sequential identifiers.
func SequentialIDs() SequentialScheme { return SequentialScheme{} }

// SequentialScheme implements storage.Scheme for Sequential. Generation is
// deterministic given its input, so callers must serialise the
// read-generate-persist cycle against the highest-seen metadata; Store
// implementations do that with a conditional update.
type SequentialScheme struct{}

func (SequentialScheme) Parse(text string) (Sequential, error) {
	n, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: sequential id %q: %v", storage.ErrInvalidFormat, text, err)
	}
	return Sequential(n), nil
}

func (SequentialScheme) ValidFormat(text string) bool {
	_, err := strconv.ParseUint(text, 10, 64)
	return err == nil
}

// Generate returns previous+1, or 1 when no identifier exists yet.
func (SequentialScheme) Generate(previous *Sequential) (Sequential, error) {
	if previous == nil {
		return 1, nil
	}
	return *previous + 1, nil
}

func (SequentialScheme) Text(id Sequential) string { return id.String() }

func (SequentialScheme) Compare(a, b Sequential) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
