package wallet

import (
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/internal/outputmanager"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Manager is the transaction-construction entry point: it selects coins via
// SelectCoins, then hands the selection to an outputmanager.Store so the
// chosen outputs can't be selected again by a concurrent call before the
// transaction either confirms or is abandoned.
type Manager struct {
	outputs *outputmanager.Store
}

// NewManager creates a Manager backed by the given output store.
func NewManager(outputs *outputmanager.Store) *Manager {
	return &Manager{outputs: outputs}
}

// Reservation is the result of ReserveForSpend: the inputs now encumbered
// under txID, and the change amount (if any) that will return to the wallet
// once the transaction mines.
type Reservation struct {
	TxID   outputmanager.TxID
	Inputs []UTXO
	Change uint64
}

// ReserveForSpend selects coins covering target from the store's current
// unspent set and short-term encumbers them under txID, so a concurrent
// ReserveForSpend cannot pick the same outputs. changeKey is the spending
// key the caller has already derived (e.g. via the key manager's next
// index) for the change output; it is ignored when there is no change.
func (m *Manager) ReserveForSpend(txID outputmanager.TxID, target uint64, changeKey types.Hash) (*Reservation, error) {
	unspentVal, err := m.outputs.Fetch(outputmanager.KeyUnspentOutputs())
	if err != nil {
		return nil, fmt.Errorf("fetch unspent outputs: %w", err)
	}

	candidates := make([]UTXO, 0, len(unspentVal.UnspentOutputs))
	bySpendingKey := make(map[types.Hash]outputmanager.UnblindedOutput, len(unspentVal.UnspentOutputs))
	for _, o := range unspentVal.UnspentOutputs {
		candidates = append(candidates, UTXO{
			Outpoint: types.Outpoint{TxID: o.SpendingKey},
			Value:    o.Value,
			Script:   o.Script,
		})
		bySpendingKey[o.SpendingKey] = o
	}

	selection, err := SelectCoins(candidates, target)
	if err != nil {
		return nil, err
	}

	toSend := make([]outputmanager.UnblindedOutput, 0, len(selection.Inputs))
	for _, in := range selection.Inputs {
		toSend = append(toSend, bySpendingKey[in.Outpoint.TxID])
	}

	var change *outputmanager.UnblindedOutput
	if selection.Change > 0 {
		change = &outputmanager.UnblindedOutput{SpendingKey: changeKey, Value: selection.Change}
	}

	if err := m.outputs.ShortTermEncumberOutputs(txID, toSend, change); err != nil {
		return nil, fmt.Errorf("encumber selected outputs: %w", err)
	}

	return &Reservation{TxID: txID, Inputs: selection.Inputs, Change: selection.Change}, nil
}

// Confirm finalizes txID once its transaction has been mined. It tolerates
// being called whether or not ConfirmEncumberedOutputs was already issued
// at broadcast time.
func (m *Manager) Confirm(txID outputmanager.TxID) error {
	err := m.outputs.ConfirmEncumberedOutputs(txID)
	if err != nil {
		if _, ok := err.(outputmanager.ValueNotFoundError); !ok {
			return fmt.Errorf("confirm encumbered outputs: %w", err)
		}
	}
	return m.outputs.ConfirmTransaction(txID)
}

// Cancel abandons a reservation, returning its inputs to unspent.
func (m *Manager) Cancel(txID outputmanager.TxID) error {
	return m.outputs.CancelPendingTransaction(txID)
}
