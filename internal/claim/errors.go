package claim

import "errors"

var (
	ErrClaimExpired     = errors.New("claim: expired")
	ErrInvalidSignature = errors.New("claim: invalid signature")

	// ErrClaimProcessingFailed hides the ledger-level reason an authorized
	// claim could not be applied.
	ErrClaimProcessingFailed = errors.New("claim: processing failed")

	// ErrClaimReplayed is returned for a claim hash that was already processed.
	ErrClaimReplayed = errors.New("claim: already processed")

	ErrMalformedClaim = errors.New("claim: malformed")
)
