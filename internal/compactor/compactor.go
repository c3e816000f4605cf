// Package compactor rewrites a batch of committed inter-DC transactions
// into an equivalent but minimal batch by collapsing semantically
// redundant CCRDT update operations per (key, bucket).
//
// The engine is pure: no logging, no time, no I/O. Given the same input
// and the same type behaviour, the output is byte-identical across runs.
package compactor

import (
	"github.com/devrev/pairdb/interdc-node/internal/ccrdt"
	"github.com/devrev/pairdb/interdc-node/internal/model"
)

// Compactor collapses transaction batches using the compaction laws of
// the CCRDT types in its registry.
type Compactor struct {
	registry *ccrdt.Registry
}

// NewCompactor creates a compactor backed by the given type registry.
func NewCompactor(registry *ccrdt.Registry) *Compactor {
	return &Compactor{registry: registry}
}

// groupKey identifies one compaction group. Updates on the same key in
// the same bucket fold together; everything else is untouched.
type groupKey struct {
	key    string
	bucket string
}

// Compact rewrites the input batch. The contract:
//
//   - Empty input returns empty output.
//   - A batch with no CCRDT update is returned unchanged.
//   - Otherwise the whole batch collapses into exactly one transaction:
//     prev_log_opid from the first input transaction, all other metadata
//     from the last, every record's tx_id rewritten to the last
//     transaction's, and records ordered as non-CCRDT updates (commit
//     order), compacted CCRDT updates grouped by (key, bucket), then the
//     non-update records of the last transaction.
//
// The input is never mutated.
func (c *Compactor) Compact(input []model.Txn) []model.Txn {
	if len(input) == 0 {
		return input
	}
	if !c.hasCCRDTUpdate(input) {
		return input
	}

	// All operations fold into one output transaction carrying the last
	// transaction's id.
	target := input[len(input)-1].TxID()

	groups := make(map[groupKey][]model.LogRecord)
	var groupOrder []groupKey
	var otherUpdates []model.LogRecord
	cleaned := make([]model.Txn, 0, len(input))

	for _, txn := range input {
		kept := make([]model.LogRecord, 0, len(txn.LogRecords))
		for _, rec := range txn.LogRecords {
			rec.LogOperation.TxID = target
			op := rec.LogOperation
			switch {
			case op.IsUpdate() && c.registry.IsCCRDT(op.Update.Type):
				k := groupKey{key: op.Update.Key, bucket: op.Update.Bucket}
				if _, seen := groups[k]; !seen {
					groupOrder = append(groupOrder, k)
				}
				groups[k] = append(groups[k], rec)
			case op.IsUpdate():
				otherUpdates = append(otherUpdates, rec)
			default:
				kept = append(kept, rec)
			}
		}
		txn.LogRecords = kept
		cleaned = append(cleaned, txn)
	}

	// Fold each group in commit order. Group iteration follows first
	// appearance, which is stable for a given input but carries no
	// cross-key ordering contract.
	var ccrdtOps []model.LogRecord
	for _, k := range groupOrder {
		recs := groups[k]
		laws, _ := c.registry.Lookup(recs[0].LogOperation.Update.Type)
		ccrdtOps = append(ccrdtOps, compactGroup(laws, recs)...)
	}

	last := cleaned[len(cleaned)-1]
	records := make([]model.LogRecord, 0, len(otherUpdates)+len(ccrdtOps)+len(last.LogRecords))
	records = append(records, otherUpdates...)
	records = append(records, ccrdtOps...)
	records = append(records, last.LogRecords...)

	last.LogRecords = records
	last.PrevLogOpID = input[0].PrevLogOpID
	return []model.Txn{last}
}

// hasCCRDTUpdate reports whether any transaction carries an update on a
// registered CCRDT type.
func (c *Compactor) hasCCRDTUpdate(input []model.Txn) bool {
	for _, txn := range input {
		for _, rec := range txn.LogRecords {
			op := rec.LogOperation
			if op.IsUpdate() && c.registry.IsCCRDT(op.Update.Type) {
				return true
			}
		}
	}
	return false
}

// compactGroup folds the records of one (key, bucket) group, given in
// commit order, into a minimal list with the same observable effect.
//
// Each incoming record is merged with at most one accumulated record,
// searched from most recent to oldest. A merge keeps the older record's
// header and replaces its operation; a no-op merge removes both records.
// Quadratic in the group length, which stays short in practice since a
// group covers one key's updates within one flush window.
func compactGroup(laws ccrdt.Compaction, recs []model.LogRecord) []model.LogRecord {
	acc := make([]model.LogRecord, 0, len(recs))
	for _, newer := range recs {
		merged := false
		for i := len(acc) - 1; i >= 0; i-- {
			older := acc[i]
			if !laws.CanCompact(older.LogOperation.Update.Op, newer.LogOperation.Update.Op) {
				continue
			}
			mergedOp, noop := laws.Compact(older.LogOperation.Update.Op, newer.LogOperation.Update.Op)
			if noop {
				acc = append(acc[:i], acc[i+1:]...)
			} else {
				payload := *older.LogOperation.Update
				payload.Op = mergedOp
				older.LogOperation.Update = &payload
				acc[i] = older
			}
			merged = true
			break
		}
		if !merged {
			acc = append(acc, newer)
		}
	}
	return acc
}
