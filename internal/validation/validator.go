package validation

import (
	"fmt"

	"github.com/devrev/pairdb/interdc-node/internal/errors"
	"github.com/devrev/pairdb/interdc-node/internal/model"
)

// Validator validates inter-DC transactions before they enter the
// compaction and broadcast path. A transaction failing validation is a
// programmer error upstream; callers drop the batch.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateTxn checks the structural invariants of a transaction: log
// records are non-empty, exactly one terminal record sits at the tail,
// all records share one tx_id, and every record carries the payload its
// op_type requires.
func (v *Validator) ValidateTxn(txn model.Txn) error {
	if len(txn.LogRecords) == 0 {
		return errors.MalformedTxn("no log records")
	}

	txID := txn.LogRecords[0].LogOperation.TxID
	if txID == "" {
		return errors.MalformedTxn("missing tx_id")
	}

	terminals := 0
	for i, rec := range txn.LogRecords {
		op := rec.LogOperation

		if op.TxID != txID {
			return errors.MalformedTxn(fmt.Sprintf("record %d has tx_id %q, expected %q", i, op.TxID, txID))
		}

		if op.IsTerminal() {
			terminals++
			if i != len(txn.LogRecords)-1 {
				return errors.MalformedTxn(fmt.Sprintf("terminal record at position %d, expected tail", i))
			}
		}

		if err := v.validatePayload(i, op); err != nil {
			return err
		}
	}

	if terminals != 1 {
		return errors.MalformedTxn(fmt.Sprintf("expected exactly one terminal record, found %d", terminals))
	}

	return nil
}

// validatePayload checks that the record carries the payload matching its
// op_type.
func (v *Validator) validatePayload(i int, op model.LogOperation) error {
	switch op.Type {
	case model.OpUpdate:
		if op.Update == nil {
			return errors.MalformedTxn(fmt.Sprintf("update record %d has no payload", i))
		}
		if op.Update.Key == "" {
			return errors.MalformedTxn(fmt.Sprintf("update record %d has empty key", i))
		}
		if op.Update.Type == "" {
			return errors.MalformedTxn(fmt.Sprintf("update record %d has empty type", i))
		}
	case model.OpPrepare:
		if op.Prepare == nil {
			return errors.MalformedTxn(fmt.Sprintf("prepare record %d has no payload", i))
		}
	case model.OpCommit:
		if op.Commit == nil {
			return errors.MalformedTxn(fmt.Sprintf("commit record %d has no payload", i))
		}
	case model.OpAbort:
		// Abort carries no payload.
	default:
		return errors.MalformedTxn(fmt.Sprintf("record %d has unknown op_type %q", i, op.Type))
	}
	return nil
}
