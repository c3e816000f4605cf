package compactor_test

import (
	"testing"

	"github.com/devrev/pairdb/interdc-node/internal/ccrdt"
	"github.com/devrev/pairdb/interdc-node/internal/compactor"
	"github.com/devrev/pairdb/interdc-node/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nonCCRDTType = "register"

// cancellingType is a test CCRDT whose pairs always cancel to a no-op.
type cancellingType struct{}

func (cancellingType) CanCompact(older, newer ccrdt.Op) bool { return true }
func (cancellingType) Compact(older, newer ccrdt.Op) (ccrdt.Op, bool) {
	return nil, true
}

// rigidType is a test CCRDT that never admits compaction.
type rigidType struct{}

func (rigidType) CanCompact(older, newer ccrdt.Op) bool { return false }
func (rigidType) Compact(older, newer ccrdt.Op) (ccrdt.Op, bool) {
	panic("compact called on non-compactable pair")
}

func testRegistry() *ccrdt.Registry {
	r := ccrdt.NewDefaultRegistry()
	r.Register("cancelling", cancellingType{})
	r.Register("rigid", rigidType{})
	return r
}

func updateRecord(txID model.TxID, opNum uint64, key, bucket, typeName string, op any) model.LogRecord {
	return model.LogRecord{
		OpNumber:       opNum,
		BucketOpNumber: opNum,
		LogOperation: model.LogOperation{
			TxID: txID,
			Type: model.OpUpdate,
			Update: &model.UpdatePayload{
				Key:    key,
				Bucket: bucket,
				Type:   typeName,
				Op:     op,
			},
		},
	}
}

func commitRecord(txID model.TxID, opNum uint64, commitTime, snapshotTime int64) model.LogRecord {
	return model.LogRecord{
		OpNumber: opNum,
		LogOperation: model.LogOperation{
			TxID:   txID,
			Type:   model.OpCommit,
			Commit: &model.CommitPayload{CommitTime: commitTime, SnapshotTime: snapshotTime},
		},
	}
}

func txn(prevLogOpID uint64, timestamp int64, records ...model.LogRecord) model.Txn {
	return model.Txn{
		DCID:        "dc-east",
		Partition:   7,
		PrevLogOpID: prevLogOpID,
		Snapshot:    model.VectorClock{Entries: []model.VectorClockEntry{{NodeID: "dc-east", LogicalTimestamp: timestamp}}},
		Timestamp:   timestamp,
		LogRecords:  records,
	}
}

// updates returns the update records of a transaction.
func updates(t model.Txn) []model.LogRecord {
	var out []model.LogRecord
	for _, rec := range t.LogRecords {
		if rec.LogOperation.IsUpdate() {
			out = append(out, rec)
		}
	}
	return out
}

func TestCompact_EmptyInput(t *testing.T) {
	c := compactor.NewCompactor(testRegistry())
	assert.Empty(t, c.Compact(nil))
	assert.Empty(t, c.Compact([]model.Txn{}))
}

func TestCompact_NoCCRDTUpdates(t *testing.T) {
	c := compactor.NewCompactor(testRegistry())

	input := []model.Txn{
		txn(0, 50,
			updateRecord("tx-1", 1, "k", "b", nonCCRDTType, "op1"),
			commitRecord("tx-1", 2, 200, 50),
		),
	}

	out := c.Compact(input)
	assert.Equal(t, input, out)

	// Extending with another non-CCRDT transaction still returns the
	// batch unchanged.
	input = append(input, txn(2, 60,
		updateRecord("tx-2", 3, "k2", "b", nonCCRDTType, "op2"),
		commitRecord("tx-2", 4, 210, 60),
	))
	out = c.Compact(input)
	assert.Equal(t, input, out)
}

func TestCompact_IntraTxnCompactablePair(t *testing.T) {
	c := compactor.NewCompactor(testRegistry())

	add := ccrdt.TopkDAdd{PlayerID: 0, Score: 5, Ts: ccrdt.Timestamp{DC: "foo", Seq: 1}}
	del := ccrdt.TopkDDel{PlayerID: 0, Vv: map[string]ccrdt.Timestamp{"foo": {DC: "foo", Seq: 1}}}

	input := []model.Txn{
		txn(0, 200,
			updateRecord("tx-1", 1, "top", "b", ccrdt.TypeTopkWithDeletes, add),
			updateRecord("tx-1", 2, "top", "b", ccrdt.TypeTopkWithDeletes, del),
			commitRecord("tx-1", 3, 150, 200),
		),
	}

	out := c.Compact(input)
	require.Len(t, out, 1)

	got := out[0]
	assert.Equal(t, uint64(0), got.PrevLogOpID)
	assert.Equal(t, int64(200), got.Timestamp)

	ups := updates(got)
	require.Len(t, ups, 1)
	assert.Equal(t, del, ups[0].LogOperation.Update.Op)
	assert.Equal(t, model.TxID("tx-1"), ups[0].LogOperation.TxID)

	// Terminal record of the input transaction survives at the tail.
	tail := got.LogRecords[len(got.LogRecords)-1]
	assert.Equal(t, model.OpCommit, tail.LogOperation.Type)
	assert.Equal(t, int64(150), tail.LogOperation.Commit.CommitTime)
}

func TestCompact_CCRDTAndNonCCRDTAcrossTxns(t *testing.T) {
	c := compactor.NewCompactor(testRegistry())

	add := ccrdt.TopkDAdd{PlayerID: 9, Score: 40, Ts: ccrdt.Timestamp{DC: "dc-east", Seq: 3}}
	del := ccrdt.TopkDDel{PlayerID: 9, Vv: map[string]ccrdt.Timestamp{"dc-east": {DC: "dc-east", Seq: 3}}}

	first := txn(11, 100,
		updateRecord("tx-1", 1, "top", "b", ccrdt.TypeTopkWithDeletes, add),
		updateRecord("tx-1", 2, "top", "b", ccrdt.TypeTopkWithDeletes, del),
		commitRecord("tx-1", 3, 110, 100),
	)
	second := txn(3, 120,
		updateRecord("tx-2", 4, "reg", "b", nonCCRDTType, "set-a"),
		updateRecord("tx-2", 5, "reg2", "b", nonCCRDTType, "set-b"),
		commitRecord("tx-2", 6, 130, 120),
	)

	out := c.Compact([]model.Txn{first, second})
	require.Len(t, out, 1)

	got := out[0]
	// prev_log_opid from the first txn, remaining metadata from the last.
	assert.Equal(t, uint64(11), got.PrevLogOpID)
	assert.Equal(t, int64(120), got.Timestamp)
	assert.Equal(t, second.Snapshot, got.Snapshot)

	// Order: non-CCRDT updates of txn2 in commit order, then the
	// compacted CCRDT del, then txn2's terminal records.
	require.Len(t, got.LogRecords, 4)
	assert.Equal(t, "set-a", got.LogRecords[0].LogOperation.Update.Op)
	assert.Equal(t, "set-b", got.LogRecords[1].LogOperation.Update.Op)
	assert.Equal(t, del, got.LogRecords[2].LogOperation.Update.Op)
	assert.Equal(t, model.OpCommit, got.LogRecords[3].LogOperation.Type)

	// Every record carries the last transaction's tx_id.
	for _, rec := range got.LogRecords {
		assert.Equal(t, model.TxID("tx-2"), rec.LogOperation.TxID)
	}
}

func TestCompact_MultiTypeInterleaving(t *testing.T) {
	c := compactor.NewCompactor(testRegistry())

	input := []model.Txn{
		txn(0, 300,
			updateRecord("tx-1", 1, "board", "games", ccrdt.TypeTopkWithDeletes,
				ccrdt.TopkDAdd{PlayerID: 1, Score: 10, Ts: ccrdt.Timestamp{DC: "dc-east", Seq: 1}}),
			updateRecord("tx-1", 2, "scores", "games", ccrdt.TypeTopk, ccrdt.TopkAdd{PlayerID: 2, Score: 7}),
			updateRecord("tx-1", 3, "load", "stats", ccrdt.TypeAverage, ccrdt.AverageAdd{Sum: 10, Count: 1}),
			updateRecord("tx-1", 4, "board", "games", ccrdt.TypeTopkWithDeletes,
				ccrdt.TopkDAdd{PlayerID: 1, Score: 25, Ts: ccrdt.Timestamp{DC: "dc-east", Seq: 2}}),
			updateRecord("tx-1", 5, "scores", "games", ccrdt.TypeTopk, ccrdt.TopkAdd{PlayerID: 2, Score: 4}),
			updateRecord("tx-1", 6, "load", "stats", ccrdt.TypeAverage, ccrdt.AverageAdd{Sum: 100, Count: 2}),
			commitRecord("tx-1", 7, 310, 300),
		),
	}

	out := c.Compact(input)
	require.Len(t, out, 1)

	ups := updates(out[0])
	require.Len(t, ups, 3, "one compacted op per (key,bucket) group")

	ops := make(map[string]any)
	for _, rec := range ups {
		ops[rec.LogOperation.Update.Key] = rec.LogOperation.Update.Op
	}
	assert.Equal(t, ccrdt.TopkDAdd{PlayerID: 1, Score: 25, Ts: ccrdt.Timestamp{DC: "dc-east", Seq: 2}}, ops["board"])
	assert.Equal(t, ccrdt.TopkAdd{PlayerID: 2, Score: 7}, ops["scores"])
	assert.Equal(t, ccrdt.AverageAdd{Sum: 110, Count: 3}, ops["load"])
}

func TestCompact_NonCompactableOpsAllSurvive(t *testing.T) {
	c := compactor.NewCompactor(testRegistry())

	first := txn(5, 100,
		updateRecord("tx-1", 1, "k", "b", "rigid", "op-1"),
		updateRecord("tx-1", 2, "k", "b", "rigid", "op-2"),
		commitRecord("tx-1", 3, 105, 100),
	)
	second := txn(3, 110,
		updateRecord("tx-2", 4, "k", "b", "rigid", "op-3"),
		commitRecord("tx-2", 5, 115, 110),
	)

	out := c.Compact([]model.Txn{first, second})
	require.Len(t, out, 1)

	got := out[0]
	assert.Equal(t, uint64(5), got.PrevLogOpID)
	assert.Equal(t, int64(110), got.Timestamp)

	ups := updates(got)
	require.Len(t, ups, 3)
	assert.Equal(t, "op-1", ups[0].LogOperation.Update.Op)
	assert.Equal(t, "op-2", ups[1].LogOperation.Update.Op)
	assert.Equal(t, "op-3", ups[2].LogOperation.Update.Op)
}

func TestCompact_NoopPairRemovesBothRecords(t *testing.T) {
	c := compactor.NewCompactor(testRegistry())

	first := txn(0, 100,
		updateRecord("tx-1", 1, "k", "b", "cancelling", "up"),
		commitRecord("tx-1", 2, 105, 100),
	)
	second := txn(2, 110,
		updateRecord("tx-2", 3, "k", "b", "cancelling", "down"),
		commitRecord("tx-2", 4, 115, 110),
	)

	out := c.Compact([]model.Txn{first, second})
	require.Len(t, out, 1)

	assert.Empty(t, updates(out[0]), "cancelled pair must leave no update records")

	// The terminal records of the last transaction remain.
	require.Len(t, out[0].LogRecords, 1)
	assert.Equal(t, model.OpCommit, out[0].LogRecords[0].LogOperation.Type)
}

func TestCompact_OutputIsFixedPoint(t *testing.T) {
	c := compactor.NewCompactor(testRegistry())

	input := []model.Txn{
		txn(0, 100,
			updateRecord("tx-1", 1, "load", "stats", ccrdt.TypeAverage, ccrdt.AverageAdd{Sum: 1, Count: 1}),
			updateRecord("tx-1", 2, "load", "stats", ccrdt.TypeAverage, ccrdt.AverageAdd{Sum: 2, Count: 1}),
			updateRecord("tx-1", 3, "other", "stats", ccrdt.TypeAverage, ccrdt.AverageAdd{Sum: 3, Count: 1}),
			commitRecord("tx-1", 4, 105, 100),
		),
		txn(4, 110,
			updateRecord("tx-2", 5, "load", "stats", ccrdt.TypeAverage, ccrdt.AverageAdd{Sum: 4, Count: 1}),
			commitRecord("tx-2", 6, 115, 110),
		),
	}

	once := c.Compact(input)
	require.Len(t, once, 1)
	twice := c.Compact(once)
	require.Len(t, twice, 1)
	assert.Equal(t, updates(once[0]), updates(twice[0]))
}

func TestCompact_DoesNotMutateInput(t *testing.T) {
	c := compactor.NewCompactor(testRegistry())

	rec := updateRecord("tx-1", 1, "load", "stats", ccrdt.TypeAverage, ccrdt.AverageAdd{Sum: 1, Count: 1})
	input := []model.Txn{
		txn(0, 100,
			rec,
			updateRecord("tx-1", 2, "load", "stats", ccrdt.TypeAverage, ccrdt.AverageAdd{Sum: 2, Count: 1}),
			commitRecord("tx-1", 3, 105, 100),
		),
	}

	c.Compact(input)

	assert.Equal(t, model.TxID("tx-1"), input[0].LogRecords[0].LogOperation.TxID)
	assert.Equal(t, ccrdt.AverageAdd{Sum: 1, Count: 1}, input[0].LogRecords[0].LogOperation.Update.Op)
	assert.Len(t, input[0].LogRecords, 3)
}

func TestCompact_Deterministic(t *testing.T) {
	c := compactor.NewCompactor(testRegistry())

	input := []model.Txn{
		txn(0, 100,
			updateRecord("tx-1", 1, "a", "b", ccrdt.TypeAverage, ccrdt.AverageAdd{Sum: 1, Count: 1}),
			updateRecord("tx-1", 2, "c", "b", ccrdt.TypeAverage, ccrdt.AverageAdd{Sum: 2, Count: 1}),
			updateRecord("tx-1", 3, "a", "b", ccrdt.TypeAverage, ccrdt.AverageAdd{Sum: 3, Count: 1}),
			commitRecord("tx-1", 4, 105, 100),
		),
	}

	first := c.Compact(input)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.Compact(input))
	}
}

func TestCompact_MergeKeepsOlderRecordHeader(t *testing.T) {
	c := compactor.NewCompactor(testRegistry())

	input := []model.Txn{
		txn(0, 100,
			updateRecord("tx-1", 1, "load", "stats", ccrdt.TypeAverage, ccrdt.AverageAdd{Sum: 1, Count: 1}),
			updateRecord("tx-1", 9, "load", "stats", ccrdt.TypeAverage, ccrdt.AverageAdd{Sum: 2, Count: 1}),
			commitRecord("tx-1", 10, 105, 100),
		),
	}

	out := c.Compact(input)
	require.Len(t, out, 1)
	ups := updates(out[0])
	require.Len(t, ups, 1)
	assert.Equal(t, uint64(1), ups[0].OpNumber, "merged record keeps the older header")
	assert.Equal(t, ccrdt.AverageAdd{Sum: 3, Count: 2}, ups[0].LogOperation.Update.Op)
}
