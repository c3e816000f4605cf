package ccrdt

// TypeTopk is the registered name of the top-k CCRDT without deletes.
const TypeTopk = "topk"

// TopkAdd proposes a score for a player in a replicated top-k set.
type TopkAdd struct {
	PlayerID int64 `json:"player_id"`
	Score    int64 `json:"score"`
}

// TopkType implements compaction for the top-k CCRDT. Two adds for the
// same player merge to the one with the higher score; the losing score can
// never be observed at any replica.
type TopkType struct{}

// CanCompact reports whether both operations are adds for the same player.
func (TopkType) CanCompact(older, newer Op) bool {
	o, okOld := older.(TopkAdd)
	n, okNew := newer.(TopkAdd)
	return okOld && okNew && o.PlayerID == n.PlayerID
}

// Compact keeps the add with the higher score. Ties keep the older add.
func (TopkType) Compact(older, newer Op) (Op, bool) {
	o := older.(TopkAdd)
	n := newer.(TopkAdd)
	if n.Score > o.Score {
		return n, false
	}
	return o, false
}
