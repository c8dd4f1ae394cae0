package numbering

import (
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/numbering/store"
)

// EmptyPrefixName is the counter key name used for the empty prefix.
const EmptyPrefixName = "(empty)"

func keyName(prefix string) string {
	if prefix == "" {
		return EmptyPrefixName
	}
	return prefix
}

func (a *Allocator) ancestorKey(prefix string) *store.Key {
	return store.NameKey(a.ancestorKind, keyName(prefix), nil)
}

func (a *Allocator) itemKey(prefix, designator string) *store.Key {
	return store.NameKey(a.itemKind, designator, a.ancestorKey(prefix))
}

// validatePrefix rejects prefixes whose keys would be ambiguous: invalid
// UTF-8, text that is not NFC (canonical encoding would rewrite it), and the
// name reserved for the empty prefix.
func validatePrefix(prefix string) error {
	if !utf8.ValidString(prefix) {
		return configurationError("prefix %q is not valid UTF-8", prefix)
	}
	if !norm.NFC.IsNormalString(prefix) {
		return configurationError("prefix %q is not NFC-normalized", prefix)
	}
	if prefix == EmptyPrefixName {
		return configurationError("prefix %q is reserved for the empty prefix", prefix)
	}
	return nil
}

// SeriesKey returns the key of the counter entity of prefix.
func (a *Allocator) SeriesKey(prefix string) *store.Key {
	return a.ancestorKey(prefix)
}

// IssuanceKey returns the key of the issuance entity of designator.
func (a *Allocator) IssuanceKey(prefix, designator string) *store.Key {
	return a.itemKey(prefix, designator)
}
