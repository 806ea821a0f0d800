package outputmanager

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Store is an in-memory, concurrency-safe output lifecycle tracker: unspent
// outputs, outputs encumbered by an in-flight transaction (short-term, then
// confirmed-pending), spent outputs, and invalidated ones. A single
// sync.RWMutex protects all of it; bulk operations that need to call back
// into another public operation do so through a private *Locked helper
// rather than dropping and reacquiring the lock.
type Store struct {
	mu sync.RWMutex

	unspentOutputs               []UnblindedOutput
	spentOutputs                 []UnblindedOutput
	invalidOutputs               []UnblindedOutput
	pendingTransactions          map[TxID]PendingTransactionOutputs
	shortTermPendingTransactions map[TxID]PendingTransactionOutputs
	keyManagerState              *KeyManagerState

	clock clock.Clock
}

// NewStore creates an empty Store. c may be nil, in which case the real
// system clock is used; tests can pass a clock.NewMock() for deterministic
// TimeoutPendingTransactions behavior.
func NewStore(c clock.Clock) *Store {
	if c == nil {
		c = clock.New()
	}
	return &Store{
		pendingTransactions:          make(map[TxID]PendingTransactionOutputs),
		shortTermPendingTransactions: make(map[TxID]PendingTransactionOutputs),
		clock:                        c,
	}
}

// findOutput returns the index of the output with the given spending key, or -1.
func findOutput(outputs []UnblindedOutput, spendingKey types.Hash) int {
	for i, o := range outputs {
		if o.SpendingKey == spendingKey {
			return i
		}
	}
	return -1
}

func removeOutputAt(outputs []UnblindedOutput, i int) ([]UnblindedOutput, UnblindedOutput) {
	removed := outputs[i]
	outputs = append(outputs[:i], outputs[i+1:]...)
	return outputs, removed
}

// Fetch performs a read-only lookup. A nil Value with a nil error means the
// key was not found; collection keys never return a nil Value.
func (s *Store) Fetch(key Key) (*Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetchLocked(key)
}

func (s *Store) fetchLocked(key Key) (*Value, error) {
	switch key.kind {
	case keySpentOutput:
		if i := findOutput(s.spentOutputs, key.spendingKey); i >= 0 {
			o := s.spentOutputs[i]
			return &Value{SpentOutput: &o}, nil
		}
		return nil, nil
	case keyUnspentOutput:
		if i := findOutput(s.unspentOutputs, key.spendingKey); i >= 0 {
			o := s.unspentOutputs[i]
			return &Value{UnspentOutput: &o}, nil
		}
		return nil, nil
	case keyPendingTransactionOutputs:
		if p, ok := s.pendingTransactions[key.txID]; ok {
			return &Value{PendingTransactionOutputs: &p}, nil
		}
		if p, ok := s.shortTermPendingTransactions[key.txID]; ok {
			return &Value{PendingTransactionOutputs: &p}, nil
		}
		return nil, nil
	case keyUnspentOutputs:
		cp := make([]UnblindedOutput, len(s.unspentOutputs))
		copy(cp, s.unspentOutputs)
		return &Value{UnspentOutputs: cp}, nil
	case keySpentOutputs:
		cp := make([]UnblindedOutput, len(s.spentOutputs))
		copy(cp, s.spentOutputs)
		return &Value{SpentOutputs: cp}, nil
	case keyInvalidOutputs:
		cp := make([]UnblindedOutput, len(s.invalidOutputs))
		copy(cp, s.invalidOutputs)
		return &Value{InvalidOutputs: cp}, nil
	case keyAllPendingTransactionOutputs:
		merged := make(map[TxID]PendingTransactionOutputs, len(s.pendingTransactions)+len(s.shortTermPendingTransactions))
		for k, v := range s.pendingTransactions {
			merged[k] = v
		}
		for k, v := range s.shortTermPendingTransactions {
			merged[k] = v
		}
		return &Value{AllPendingTransactionOutputs: merged}, nil
	case keyKeyManagerState:
		if s.keyManagerState == nil {
			return nil, nil
		}
		cp := *s.keyManagerState
		return &Value{KeyManagerState: &cp}, nil
	default:
		return nil, fmt.Errorf("outputmanager: unknown key kind %d", key.kind)
	}
}

// Write applies a single insert or remove. On Remove it returns the removed
// value.
func (s *Store) Write(op Operation) (*Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(op)
}

func (s *Store) writeLocked(op Operation) (*Value, error) {
	switch op.kind {
	case opInsertUnspentOutput:
		if findOutput(s.unspentOutputs, op.spendingKey) >= 0 || findOutput(s.spentOutputs, op.spendingKey) >= 0 {
			return nil, ErrDuplicateOutput
		}
		s.unspentOutputs = append(s.unspentOutputs, op.output)
		return nil, nil
	case opInsertSpentOutput:
		if findOutput(s.spentOutputs, op.spendingKey) >= 0 || findOutput(s.unspentOutputs, op.spendingKey) >= 0 {
			return nil, ErrDuplicateOutput
		}
		s.spentOutputs = append(s.spentOutputs, op.output)
		return nil, nil
	case opInsertPendingTransactionOutputs:
		s.pendingTransactions[op.pendingTransaction.TxID] = op.pendingTransaction
		return nil, nil
	case opInsertKeyManagerState:
		cp := op.keyManagerState
		s.keyManagerState = &cp
		return nil, nil
	case opRemove:
		return s.removeLocked(op.removeKey)
	default:
		return nil, fmt.Errorf("outputmanager: unknown operation kind %d", op.kind)
	}
}

func (s *Store) removeLocked(key Key) (*Value, error) {
	switch key.kind {
	case keySpentOutput:
		i := findOutput(s.spentOutputs, key.spendingKey)
		if i < 0 {
			return nil, ValueNotFoundError{Key: key}
		}
		var removed UnblindedOutput
		s.spentOutputs, removed = removeOutputAt(s.spentOutputs, i)
		return &Value{SpentOutput: &removed}, nil
	case keyUnspentOutput:
		i := findOutput(s.unspentOutputs, key.spendingKey)
		if i < 0 {
			return nil, ValueNotFoundError{Key: key}
		}
		var removed UnblindedOutput
		s.unspentOutputs, removed = removeOutputAt(s.unspentOutputs, i)
		return &Value{UnspentOutput: &removed}, nil
	case keyPendingTransactionOutputs:
		if p, ok := s.pendingTransactions[key.txID]; ok {
			delete(s.pendingTransactions, key.txID)
			return &Value{PendingTransactionOutputs: &p}, nil
		}
		if p, ok := s.shortTermPendingTransactions[key.txID]; ok {
			delete(s.shortTermPendingTransactions, key.txID)
			return &Value{PendingTransactionOutputs: &p}, nil
		}
		return nil, ValueNotFoundError{Key: key}
	default:
		return nil, ErrOperationNotSupported
	}
}

// ShortTermEncumberOutputs reserves outputsToSend for tx_id. It is
// transactional: if any requested output is not in unspent, no state is
// mutated and ErrValuesNotFound is returned.
func (s *Store) ShortTermEncumberOutputs(txID TxID, outputsToSend []UnblindedOutput, changeOutput *UnblindedOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range outputsToSend {
		if findOutput(s.unspentOutputs, o.SpendingKey) < 0 {
			return ErrValuesNotFound
		}
	}

	spent := make([]UnblindedOutput, 0, len(outputsToSend))
	for _, o := range outputsToSend {
		i := findOutput(s.unspentOutputs, o.SpendingKey)
		var removed UnblindedOutput
		s.unspentOutputs, removed = removeOutputAt(s.unspentOutputs, i)
		spent = append(spent, removed)
	}

	pending := PendingTransactionOutputs{
		TxID:             txID,
		OutputsToBeSpent: spent,
		Timestamp:        s.clock.Now(),
	}
	if changeOutput != nil {
		pending.OutputsToBeReceived = append(pending.OutputsToBeReceived, *changeOutput)
	}
	s.shortTermPendingTransactions[txID] = pending

	log.Wallet.Debug().
		Uint64("tx_id", uint64(txID)).
		Int("inputs", len(spent)).
		Msg("outputmanager: short-term encumbered outputs")
	return nil
}

// ConfirmEncumberedOutputs promotes tx_id from short-term pending to
// (confirmed) pending, once the transaction has been fully constructed and
// broadcast.
func (s *Store) ConfirmEncumberedOutputs(txID TxID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.shortTermPendingTransactions[txID]
	if !ok {
		return ValueNotFoundError{Key: KeyPendingTransactionOutputs(txID)}
	}
	delete(s.shortTermPendingTransactions, txID)
	s.pendingTransactions[txID] = p
	return nil
}

// ClearShortTermEncumberances cancels every bundle currently in short-term
// pending, restoring their outputs_to_be_spent to unspent.
func (s *Store) ClearShortTermEncumberances() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txIDs := make([]TxID, 0, len(s.shortTermPendingTransactions))
	for txID := range s.shortTermPendingTransactions {
		txIDs = append(txIDs, txID)
	}
	for _, txID := range txIDs {
		if err := s.cancelPendingTransactionLocked(txID); err != nil {
			return err
		}
	}
	return nil
}

// CancelPendingTransaction removes tx_id from whichever pending map holds
// it and restores its outputs_to_be_spent to unspent. outputs_to_be_received
// are discarded since they were never actually owned.
func (s *Store) CancelPendingTransaction(txID TxID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelPendingTransactionLocked(txID)
}

func (s *Store) cancelPendingTransactionLocked(txID TxID) error {
	p, ok := s.pendingTransactions[txID]
	if ok {
		delete(s.pendingTransactions, txID)
	} else {
		p, ok = s.shortTermPendingTransactions[txID]
		if !ok {
			return ValueNotFoundError{Key: KeyPendingTransactionOutputs(txID)}
		}
		delete(s.shortTermPendingTransactions, txID)
	}

	s.unspentOutputs = append(s.unspentOutputs, p.OutputsToBeSpent...)
	return nil
}

// ConfirmTransaction finalizes a mined transaction: its spent inputs move
// to spent, its prospective change output moves to unspent.
func (s *Store) ConfirmTransaction(txID TxID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pendingTransactions[txID]
	if ok {
		delete(s.pendingTransactions, txID)
	} else {
		p, ok = s.shortTermPendingTransactions[txID]
		if !ok {
			return ValueNotFoundError{Key: KeyPendingTransactionOutputs(txID)}
		}
		delete(s.shortTermPendingTransactions, txID)
	}

	s.spentOutputs = append(s.spentOutputs, p.OutputsToBeSpent...)
	s.unspentOutputs = append(s.unspentOutputs, p.OutputsToBeReceived...)
	return nil
}

// TimeoutPendingTransactions cancels every bundle (in either pending map)
// whose timestamp+period has elapsed. The collection pass and the
// cancellation pass both run under the same lock acquisition, so a
// concurrent write can't observe a half-swept state.
func (s *Store) TimeoutPendingTransactions(period time.Duration) error {
	if period < 0 {
		return ErrDurationOutOfRange
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var expired []TxID
	for txID, p := range s.pendingTransactions {
		if p.Timestamp.Add(period).Before(now) {
			expired = append(expired, txID)
		}
	}
	for txID, p := range s.shortTermPendingTransactions {
		if p.Timestamp.Add(period).Before(now) {
			expired = append(expired, txID)
		}
	}

	for _, txID := range expired {
		if err := s.cancelPendingTransactionLocked(txID); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateUnspentOutput moves an output matched by spending key from
// unspent to invalid — used when a previously-broadcast output is later
// found to be double-spent or otherwise unspendable.
func (s *Store) InvalidateUnspentOutput(output UnblindedOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := findOutput(s.unspentOutputs, output.SpendingKey)
	if i < 0 {
		return ErrValuesNotFound
	}
	var removed UnblindedOutput
	s.unspentOutputs, removed = removeOutputAt(s.unspentOutputs, i)
	s.invalidOutputs = append(s.invalidOutputs, removed)
	return nil
}

// IncrementKeyIndex atomically increments the key manager's primary index.
func (s *Store) IncrementKeyIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keyManagerState == nil {
		return ErrKeyManagerNotInitialized
	}
	s.keyManagerState.PrimaryKeyIndex++
	return nil
}
