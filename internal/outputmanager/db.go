package outputmanager

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Store errors.
var (
	// ErrDuplicateOutput is returned when inserting a spending key that
	// already exists in either the unspent or spent set.
	ErrDuplicateOutput = errors.New("output already exists")
	// ErrValuesNotFound is returned when a bulk operation references one
	// or more outputs that are not present in the expected set.
	ErrValuesNotFound = errors.New("one or more values not found")
	// ErrOperationNotSupported is returned for Remove on a collection key
	// (UnspentOutputs, SpentOutputs, etc.) — those are read-only views.
	ErrOperationNotSupported = errors.New("operation not supported for this key")
	// ErrKeyManagerNotInitialized is returned by IncrementKeyIndex before
	// a KeyManagerState has been written.
	ErrKeyManagerNotInitialized = errors.New("key manager state not initialized")
	// ErrDurationOutOfRange is returned by TimeoutPendingTransactions for a
	// negative period.
	ErrDurationOutOfRange = errors.New("timeout period out of range")
)

// ValueNotFoundError is returned by Write(Remove(...)) when the keyed value
// does not exist.
type ValueNotFoundError struct {
	Key Key
}

func (e ValueNotFoundError) Error() string {
	return fmt.Sprintf("value not found: %s", e.Key)
}

// keyKind discriminates the Key union.
type keyKind int

const (
	keySpentOutput keyKind = iota
	keyUnspentOutput
	keyPendingTransactionOutputs
	keyUnspentOutputs
	keySpentOutputs
	keyAllPendingTransactionOutputs
	keyKeyManagerState
	keyInvalidOutputs
)

// Key identifies a single value or collection to Fetch, or a single value
// to remove via Write(Remove(key)). Construct one with the KeySpentOutput,
// KeyUnspentOutput, ... functions below rather than the struct literal.
type Key struct {
	kind        keyKind
	spendingKey types.Hash
	txID        TxID
}

func (k Key) String() string {
	switch k.kind {
	case keySpentOutput:
		return fmt.Sprintf("SpentOutput(%s)", k.spendingKey)
	case keyUnspentOutput:
		return fmt.Sprintf("UnspentOutput(%s)", k.spendingKey)
	case keyPendingTransactionOutputs:
		return fmt.Sprintf("PendingTransactionOutputs(%d)", k.txID)
	case keyUnspentOutputs:
		return "UnspentOutputs"
	case keySpentOutputs:
		return "SpentOutputs"
	case keyAllPendingTransactionOutputs:
		return "AllPendingTransactionOutputs"
	case keyKeyManagerState:
		return "KeyManagerState"
	case keyInvalidOutputs:
		return "InvalidOutputs"
	default:
		return "Key(unknown)"
	}
}

// KeySpentOutput identifies a single spent output by spending key.
func KeySpentOutput(spendingKey types.Hash) Key {
	return Key{kind: keySpentOutput, spendingKey: spendingKey}
}

// KeyUnspentOutput identifies a single unspent output by spending key.
func KeyUnspentOutput(spendingKey types.Hash) Key {
	return Key{kind: keyUnspentOutput, spendingKey: spendingKey}
}

// KeyPendingTransactionOutputs identifies a pending bundle, checking the
// confirmed map first and falling back to the short-term map.
func KeyPendingTransactionOutputs(txID TxID) Key {
	return Key{kind: keyPendingTransactionOutputs, txID: txID}
}

// KeyUnspentOutputs identifies the full unspent collection.
func KeyUnspentOutputs() Key { return Key{kind: keyUnspentOutputs} }

// KeySpentOutputs identifies the full spent collection.
func KeySpentOutputs() Key { return Key{kind: keySpentOutputs} }

// KeyAllPendingTransactionOutputs identifies the union of the confirmed and
// short-term pending maps.
func KeyAllPendingTransactionOutputs() Key { return Key{kind: keyAllPendingTransactionOutputs} }

// KeyKeyManagerState identifies the key manager's derivation state.
func KeyKeyManagerState() Key { return Key{kind: keyKeyManagerState} }

// KeyInvalidOutputs identifies the full invalidated-output collection.
func KeyInvalidOutputs() Key { return Key{kind: keyInvalidOutputs} }

// Value is the result of a successful Fetch or a non-nil Write(Remove(...)).
// Exactly one field is populated, matching the Key that produced it.
type Value struct {
	SpentOutput                  *UnblindedOutput
	UnspentOutput                *UnblindedOutput
	PendingTransactionOutputs    *PendingTransactionOutputs
	UnspentOutputs               []UnblindedOutput
	SpentOutputs                 []UnblindedOutput
	AllPendingTransactionOutputs map[TxID]PendingTransactionOutputs
	KeyManagerState              *KeyManagerState
	InvalidOutputs               []UnblindedOutput
}

// opKind discriminates the Operation union.
type opKind int

const (
	opInsertSpentOutput opKind = iota
	opInsertUnspentOutput
	opInsertPendingTransactionOutputs
	opInsertKeyManagerState
	opRemove
)

// Operation is a single Write request: insert a keyed value, or remove one
// by Key. Construct with the InsertSpentOutput, InsertUnspentOutput, ...,
// and Remove functions below.
type Operation struct {
	kind               opKind
	spendingKey        types.Hash
	output             UnblindedOutput
	pendingTransaction PendingTransactionOutputs
	keyManagerState    KeyManagerState
	removeKey          Key
}

// InsertSpentOutput inserts o directly into the spent set under spendingKey.
func InsertSpentOutput(spendingKey types.Hash, o UnblindedOutput) Operation {
	return Operation{kind: opInsertSpentOutput, spendingKey: spendingKey, output: o}
}

// InsertUnspentOutput inserts o directly into the unspent set under spendingKey.
func InsertUnspentOutput(spendingKey types.Hash, o UnblindedOutput) Operation {
	return Operation{kind: opInsertUnspentOutput, spendingKey: spendingKey, output: o}
}

// InsertPendingTransactionOutputs inserts or overwrites the confirmed
// pending-transaction bundle for p.TxID.
func InsertPendingTransactionOutputs(p PendingTransactionOutputs) Operation {
	return Operation{kind: opInsertPendingTransactionOutputs, pendingTransaction: p}
}

// InsertKeyManagerState sets (or replaces) the key manager state.
func InsertKeyManagerState(s KeyManagerState) Operation {
	return Operation{kind: opInsertKeyManagerState, keyManagerState: s}
}

// Remove deletes the value identified by key. Only SpentOutput,
// UnspentOutput, and PendingTransactionOutputs keys are removable;
// collection keys return ErrOperationNotSupported.
func Remove(key Key) Operation {
	return Operation{kind: opRemove, removeKey: key}
}
