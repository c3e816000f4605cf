package ccrdt

// TypeTopkWithDeletes is the registered name of the top-k CCRDT that
// supports observed-remove deletes.
const TypeTopkWithDeletes = "topk_with_deletes"

// Timestamp is a per-DC logical timestamp identifying one add.
type Timestamp struct {
	DC  string `json:"dc"`
	Seq int64  `json:"seq"`
}

// TopkDAdd proposes a score for a player, tagged with the origin DC's
// logical timestamp so deletes can cover it.
type TopkDAdd struct {
	PlayerID int64     `json:"player_id"`
	Score    int64     `json:"score"`
	Ts       Timestamp `json:"ts"`
}

// TopkDDel removes all adds for a player that are covered by the version
// vector Vv (observed-remove semantics).
type TopkDDel struct {
	PlayerID int64                `json:"player_id"`
	Vv       map[string]Timestamp `json:"vv"`
}

// TopkWithDeletesType implements compaction for the top-k CCRDT with
// deletes. Adds for the same player keep the max score; a delete absorbs
// any add it covers; two deletes for one player merge their version
// vectors. Deletes always survive compaction because remote replicas may
// hold adds the local batch never saw.
type TopkWithDeletesType struct{}

// CanCompact reports whether the two operations touch the same player and
// the pair has a defined merge: add/add, del/del, or an add covered by the
// delete's version vector (in either order).
func (TopkWithDeletesType) CanCompact(older, newer Op) bool {
	switch o := older.(type) {
	case TopkDAdd:
		switch n := newer.(type) {
		case TopkDAdd:
			return o.PlayerID == n.PlayerID
		case TopkDDel:
			return o.PlayerID == n.PlayerID && covers(n.Vv, o.Ts)
		}
	case TopkDDel:
		switch n := newer.(type) {
		case TopkDAdd:
			return o.PlayerID == n.PlayerID && covers(o.Vv, n.Ts)
		case TopkDDel:
			return o.PlayerID == n.PlayerID
		}
	}
	return false
}

// Compact merges a compactable pair.
func (TopkWithDeletesType) Compact(older, newer Op) (Op, bool) {
	switch o := older.(type) {
	case TopkDAdd:
		switch n := newer.(type) {
		case TopkDAdd:
			if n.Score > o.Score {
				return n, false
			}
			return o, false
		case TopkDDel:
			// The delete covers the add; only the delete must propagate.
			return n, false
		}
	case TopkDDel:
		switch n := newer.(type) {
		case TopkDAdd:
			// The add was already observed-deleted.
			return o, false
		case TopkDDel:
			return TopkDDel{PlayerID: o.PlayerID, Vv: mergeVv(o.Vv, n.Vv)}, false
		}
	}
	return nil, true
}

// covers reports whether the version vector has seen the timestamp.
func covers(vv map[string]Timestamp, ts Timestamp) bool {
	seen, ok := vv[ts.DC]
	return ok && seen.Seq >= ts.Seq
}

// mergeVv takes the pointwise maximum of two version vectors.
func mergeVv(a, b map[string]Timestamp) map[string]Timestamp {
	merged := make(map[string]Timestamp, len(a)+len(b))
	for dc, ts := range a {
		merged[dc] = ts
	}
	for dc, ts := range b {
		if cur, ok := merged[dc]; !ok || ts.Seq > cur.Seq {
			merged[dc] = ts
		}
	}
	return merged
}
