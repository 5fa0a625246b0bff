package core

import (
	"errors"
	"fmt"
)

// Kind classifies a CoreError so callers can switch on error class without
// string matching, mirroring the taxonomy LogiChain exposes at its ingress
// boundary.
type Kind uint8

const (
	KindUnknown Kind = iota

	KindInvalidSignature
	KindInvalidNonce
	KindInsufficientBalance
	KindDuplicateTransaction

	KindInvalidBlockStructure
	KindPoWTargetMissed
	KindMerkleMismatch
	KindParentUnknown
	KindTimestampDrift
	KindBlockTooLarge

	KindQuorumInsufficient
	KindViewChangeTimeout
	KindProposerMisbehavior

	KindContractStateIllegalTransition
	KindCheckpointOutOfTolerance
	KindCheckpointOutOfOrder
	KindContractExpired

	KindCoordinateSaturated
	KindRateLimited
	KindReplayDetected

	KindPersistenceIoError
	KindIndexCorruption
	KindReorgBeyondWindow

	KindResourceExhausted
	KindCancelled
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindInvalidSignature:
		return "InvalidSignature"
	case KindInvalidNonce:
		return "InvalidNonce"
	case KindInsufficientBalance:
		return "InsufficientBalance"
	case KindDuplicateTransaction:
		return "DuplicateTransaction"
	case KindInvalidBlockStructure:
		return "InvalidBlockStructure"
	case KindPoWTargetMissed:
		return "PoWTargetMissed"
	case KindMerkleMismatch:
		return "MerkleMismatch"
	case KindParentUnknown:
		return "ParentUnknown"
	case KindTimestampDrift:
		return "TimestampDrift"
	case KindBlockTooLarge:
		return "BlockTooLarge"
	case KindQuorumInsufficient:
		return "QuorumInsufficient"
	case KindViewChangeTimeout:
		return "ViewChangeTimeout"
	case KindProposerMisbehavior:
		return "ProposerMisbehavior"
	case KindContractStateIllegalTransition:
		return "ContractStateIllegalTransition"
	case KindCheckpointOutOfTolerance:
		return "CheckpointOutOfTolerance"
	case KindCheckpointOutOfOrder:
		return "CheckpointOutOfOrder"
	case KindContractExpired:
		return "ContractExpired"
	case KindCoordinateSaturated:
		return "CoordinateSaturated"
	case KindRateLimited:
		return "RateLimited"
	case KindReplayDetected:
		return "ReplayDetected"
	case KindPersistenceIoError:
		return "PersistenceIoError"
	case KindIndexCorruption:
		return "IndexCorruption"
	case KindReorgBeyondWindow:
		return "ReorgBeyondWindow"
	case KindResourceExhausted:
		return "ResourceExhausted"
	case KindCancelled:
		return "Cancelled"
	case KindTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// CoreError is the single tagged error type surfaced across LogiChain's
// ingress and internal actor boundaries. It carries the error Kind plus
// whatever structured context the caller attached (block_hash, tx_hash,
// validator_id, contract_id, ...).
type CoreError struct {
	Kind    Kind
	Message string
	Context map[string]string
	Err     error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Err }

// NewError constructs a CoreError of the given kind.
func NewError(kind Kind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

// WrapError constructs a CoreError of the given kind wrapping err, the way
// pkg/utils.Wrap composes plain errors with a message but additionally
// tagging the result with a Kind so callers can branch on error class.
func WrapError(kind Kind, message string, err error) *CoreError {
	return &CoreError{Kind: kind, Message: message, Err: err}
}

// WithContext returns a copy of e annotated with a structured key/value pair
// (e.g. "block_hash", "tx_hash", "validator_id", "contract_id").
func (e *CoreError) WithContext(key, value string) *CoreError {
	cp := *e
	ctx := make(map[string]string, len(e.Context)+1)
	for k, v := range e.Context {
		ctx[k] = v
	}
	ctx[key] = value
	cp.Context = ctx
	return &cp
}

// KindOf extracts the Kind from err if it is, or wraps, a *CoreError.
func KindOf(err error) Kind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}
