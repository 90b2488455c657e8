package olcart

import "errors"

var (
	// ErrNilLoadKey is returned by New when no key loader is given.
	ErrNilLoadKey = errors.New("olcart: load key function is nil")

	// ErrInvalidTID is returned for TID 0 and TIDs above MaxTID.
	ErrInvalidTID = errors.New("olcart: invalid tid")

	// ErrAmbiguousKey is returned when a key ends exactly where a stored
	// key continues with byte 0, or the other way round. Both would need
	// the same child slot.
	ErrAmbiguousKey = errors.New("olcart: key is ambiguous with a stored key")

	// ErrAborted is returned when a RangeObserver stops a lookup.
	ErrAborted = errors.New("olcart: aborted by observer")

	// ErrObsolete is returned by LookupFrom when the node it should resume
	// from was unlinked since it was observed. Transactions that relied on
	// the observation have to abort.
	ErrObsolete = errors.New("olcart: observed node is obsolete")

	// ErrIntentDone is returned by Commit and Abort on an intent that was
	// already committed or aborted.
	ErrIntentDone = errors.New("olcart: intent already finished")
)
