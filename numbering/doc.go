// Package numbering allocates collision-free sequence numbers per named
// series on top of a transactional store.
//
// Each series is identified by a prefix. Its counter lives in one store
// entity and every issued designator is recorded as a write-once child of
// that counter. An allocation reads the counter, checks that the next
// designator has never been recorded, and writes the new counter together
// with the issuance record in one transaction. Conflicting transactions are
// retried with randomized exponential backoff until a time budget runs out.
//
// A prefix may be any valid UTF-8 string in Unicode normalization form NFC,
// including the empty string. Store keys are encoded as canonical JSON, which
// normalizes text to NFC, so two spellings of the same text would share one
// counter. Non-NFC prefixes are rejected with a Configuration error instead;
// callers holding user input should apply norm.NFC.String first. The name
// EmptyPrefixName is reserved for the empty prefix.
//
// Negative and zero initial ids are allowed, and a new series counts up from
// them without gaps (-5, -4, -3, ...). math.MinInt64 is rejected.
//
// Numbers are unique but not gap-free: a transaction that commits on the
// store while its caller gives up still consumes its number.
//
// Usage:
//
//	alloc, err := numbering.New(store.New(memstore.New()), numbering.Options{})
//	if err != nil {
//		return err
//	}
//	id, err := alloc.AllocateID(ctx, "INV-", 10000) // "INV-10000"
//
// Within one Allocator, attempts run one at a time in arrival order. Across
// processes, uniqueness rests on the store's optimistic commit.
package numbering
