package transfers

import (
	"fmt"

	"vsnbridge/types"

	"github.com/google/uuid"
)

// ValidationError rejects a malformed transfer request. Field names the
// offending request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type SenderNonceNotUniqueError struct {
	SourceBlockchain types.Blockchain
	SenderAddress    string
	Nonce            uint64
}

func (e *SenderNonceNotUniqueError) Error() string {
	return fmt.Sprintf("sender nonce %d is not unique", e.Nonce)
}

func (e *SenderNonceNotUniqueError) Unwrap() error {
	return types.ErrSenderNonceNotUnique
}

type BidNotAcceptedError struct {
	Reason string
}

func (e *BidNotAcceptedError) Error() string {
	return e.Reason
}

type ResourceNotFoundError struct {
	ID uuid.UUID
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("task ID %s is unknown", e.ID)
}

func (e *ResourceNotFoundError) Unwrap() error {
	return types.ErrTransferNotFound
}
