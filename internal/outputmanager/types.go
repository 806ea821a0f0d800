// Package outputmanager tracks the lifecycle of a wallet's own outputs,
// independent of the UTXO set the chain enforces: unspent, short-term
// encumbered, pending, spent, or invalidated.
package outputmanager

import (
	"time"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// TxID identifies a pending transaction bundle within the store. Distinct
// from a chain transaction hash — this is a local, wallet-assigned handle.
type TxID uint64

// UnblindedOutput is a wallet-owned output together with the data needed to
// spend it later. SpendingKey is the output's identity within the store;
// two outputs with the same SpendingKey are the same output.
type UnblindedOutput struct {
	SpendingKey types.Hash
	Value       uint64
	Script      types.Script
}

// PendingTransactionOutputs bundles the inputs a pending transaction
// consumes and the outputs (typically just change) it expects to receive,
// keyed by the TxID that will later confirm or cancel the bundle.
type PendingTransactionOutputs struct {
	TxID                TxID
	OutputsToBeSpent    []UnblindedOutput
	OutputsToBeReceived []UnblindedOutput
	Timestamp           time.Time
}

// KeyManagerState tracks the wallet's HD key derivation progress. Must be
// initialized (via Write(InsertKeyManagerState(...))) before IncrementKeyIndex
// can be called.
type KeyManagerState struct {
	MasterKey       types.Hash
	PrimaryKeyIndex uint64
}
