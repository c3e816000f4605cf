package model

// DCID identifies a peer datacenter.
type DCID string

// Partition identifies a log partition on the ring.
type Partition uint64

// TxID identifies a transaction. All log records of one transaction share
// the same TxID.
type TxID string

// VectorClockEntry represents a single entry in the vector clock
type VectorClockEntry struct {
	NodeID           string `json:"node_id"`
	LogicalTimestamp int64  `json:"logical_timestamp"`
}

// VectorClock tracks causality across datacenters
type VectorClock struct {
	Entries []VectorClockEntry `json:"entries,omitempty"`
}

// OpType defines the type of a log operation
type OpType string

const (
	OpUpdate  OpType = "update"
	OpPrepare OpType = "prepare"
	OpCommit  OpType = "commit"
	OpAbort   OpType = "abort"
)

// UpdatePayload carries a typed update to a single key.
// Op is opaque to everything except the CCRDT implementation of Type.
type UpdatePayload struct {
	Key    string `json:"key"`
	Bucket string `json:"bucket"`
	Type   string `json:"type"`
	Op     any    `json:"op"`
}

// PreparePayload carries the prepare timestamp of a two-phase commit.
type PreparePayload struct {
	PrepareTime int64 `json:"prepare_time"`
}

// CommitPayload carries the commit and snapshot timestamps.
type CommitPayload struct {
	CommitTime   int64 `json:"commit_time"`
	SnapshotTime int64 `json:"snapshot_time"`
}

// AbortPayload marks an aborted transaction. It carries no data.
type AbortPayload struct{}

// LogOperation is a tagged variant: exactly the payload matching Type is
// non-nil (Abort may be nil as well since it is empty).
type LogOperation struct {
	TxID    TxID            `json:"tx_id"`
	Type    OpType          `json:"type"`
	Update  *UpdatePayload  `json:"update,omitempty"`
	Prepare *PreparePayload `json:"prepare,omitempty"`
	Commit  *CommitPayload  `json:"commit,omitempty"`
	Abort   *AbortPayload   `json:"abort,omitempty"`
}

// IsUpdate reports whether the operation is an update record.
func (o LogOperation) IsUpdate() bool {
	return o.Type == OpUpdate
}

// IsTerminal reports whether the operation ends a transaction.
func (o LogOperation) IsTerminal() bool {
	return o.Type == OpCommit || o.Type == OpAbort
}

// LogRecord is one entry in a transaction's log.
type LogRecord struct {
	Version        uint16       `json:"version"`
	OpNumber       uint64       `json:"op_number"`
	BucketOpNumber uint64       `json:"bucket_op_number"`
	LogOperation   LogOperation `json:"log_operation"`
}

// Txn is an inter-DC transaction: the committed log records of one local
// transaction on one partition, annotated with replication metadata.
//
// Invariants: LogRecords is non-empty, ends with exactly one terminal
// record (commit or abort), and all records share one TxID.
type Txn struct {
	DCID        DCID        `json:"dcid"`
	Partition   Partition   `json:"partition"`
	PrevLogOpID uint64      `json:"prev_log_opid"`
	Snapshot    VectorClock `json:"snapshot"`
	Timestamp   int64       `json:"timestamp"`
	LogRecords  []LogRecord `json:"log_records"`
}

// TxID returns the transaction id carried by the head log record.
// Well-formed transactions carry the same id on every record, so any
// record is an equally valid source.
func (t Txn) TxID() TxID {
	if len(t.LogRecords) == 0 {
		return ""
	}
	return t.LogRecords[0].LogOperation.TxID
}
