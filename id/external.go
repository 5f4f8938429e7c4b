package id

import (
	"fmt"
	"strings"

	"pkt.systems/lockstore/storage"
)

// External is an identifier owned by another system, rendered as
// "source:value". The source prefix names the originating system; the value
// is opaque.
type External struct {
	Source string
	Value  string
}

func (e External) String() string { return e.Source + ":" + e.Value }

// ExternalIDs returns a scheme accepting only identifiers from the given
// source system.
func ExternalIDs(source string) ExternalScheme { return ExternalScheme{Source: source} }

// ExternalScheme implements storage.Scheme for External. Validation checks
// the configured source prefix; generation is rejected because these values
// only ever arrive from the outside.
type ExternalScheme struct {
	Source string
}

func (s ExternalScheme) Parse(text string) (External, error) {
	source, value, ok := strings.Cut(text, ":")
	if !ok || source == "" || value == "" {
		return External{}, fmt.Errorf("%w: external id %q: want source:value", storage.ErrInvalidFormat, text)
	}
	if s.Source != "" && source != s.Source {
		return External{}, fmt.Errorf("%w: external id %q: source %q not accepted", storage.ErrInvalidFormat, text, source)
	}
	return External{Source: source, Value: value}, nil
}

func (s ExternalScheme) ValidFormat(text string) bool {
	_, err := s.Parse(text)
	return err == nil
}

// Generate always fails: an external identifier without an externally
// supplied value is meaningless.
func (s ExternalScheme) Generate(_ *External) (External, error) {
	return External{}, fmt.Errorf("lockstore: external ids for %q cannot be generated", s.Source)
}

func (ExternalScheme) Text(id External) string { return id.String() }

func (ExternalScheme) Compare(a, b External) int {
	if c := strings.Compare(a.Source, b.Source); c != 0 {
		return c
	}
	return strings.Compare(a.Value, b.Value)
}

// Simple is an externally-sourced identifier with no prefix: any non-empty
// opaque text.
type Simple string

func (s Simple) String() string { return string(s) }

// SimpleIDs returns the scheme for Simple identifiers.
func SimpleIDs() SimpleScheme { return SimpleScheme{} }

// SimpleScheme implements storage.Scheme for Simple.
type SimpleScheme struct{}

func (SimpleScheme) Parse(text string) (Simple, error) {
	if text == "" {
		return "", fmt.Errorf("%w: simple id must not be empty", storage.ErrInvalidFormat)
	}
	return Simple(text), nil
}

func (SimpleScheme) ValidFormat(text string) bool { return text != "" }

// Generate always fails, as for External.
func (SimpleScheme) Generate(_ *Simple) (Simple, error) {
	return "", fmt.Errorf("lockstore: simple external ids cannot be generated")
}

func (SimpleScheme) Text(id Simple) string { return string(id) }

func (SimpleScheme) Compare(a, b Simple) int { return strings.Compare(string(a), string(b)) }
