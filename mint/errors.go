package mint

import (
	"context"
	"errors"

	"github.com/elnosh/starknuts/cashu"
	"github.com/elnosh/starknuts/mint/storage"
)

func asCashuError(err error) (cashu.Error, bool) {
	var cashuErr cashu.Error
	if errors.As(err, &cashuErr) {
		return cashuErr, true
	}
	var cashuErrPtr *cashu.Error
	if errors.As(err, &cashuErrPtr) && cashuErrPtr != nil {
		return *cashuErrPtr, true
	}
	return cashu.Error{}, false
}

// signerError keeps the errors the signer reports about the request
// and turns anything else into SignerUnavailableErr.
func signerError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return cashu.SignerUnavailableErr
	}
	if cashuErr, ok := asCashuError(err); ok {
		return cashuErr
	}
	return cashu.SignerUnavailableErr
}

// dbError logs the cause of a storage failure and returns the
// error the client sees. Errors already meant for the client pass through.
func (m *Mint) dbError(err error, operation string) error {
	if cashuErr, ok := asCashuError(err); ok {
		return cashuErr
	}
	m.logErrorf("database failure %v: %v", operation, err)
	return cashu.DBErr
}

// txError maps the constraint violations of the ledger to the errors
// the client sees.
func (m *Mint) txError(err error, operation string) error {
	switch {
	case errors.Is(err, storage.ErrProofAlreadyExists):
		return cashu.ProofAlreadyUsedErr
	case errors.Is(err, storage.ErrBlindSignatureExists):
		return cashu.BlindedMessageAlreadySigned
	}
	return m.dbError(err, operation)
}
