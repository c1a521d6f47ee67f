package txpool

import "github.com/cockroachdb/errors"

// Errors returned by Pool admission, per spec.md §4.2's contract and
// the error-kind taxonomy of spec.md §7.
var (
	ErrDuplicateBlock       = errors.New("txpool: block already known")
	ErrDuplicateTransaction = errors.New("txpool: transaction already known")
	ErrBadSignature         = errors.New("txpool: signature verification failed")
	ErrGasLimitExceeded     = errors.New("txpool: gas limit exceeds block gas limit")
	ErrStaleNonce           = errors.New("txpool: nonce below replay-protection watermark")
)
