package receipt

import (
	"context"

	"github.com/votetrail/go-cvrlog/commitlog"
)

// VerifyRow confirms a receipt row against the log store: every digest on
// the row must name a commit the remote retains. Redacted cells pass
// vacuously. A receipt holder runs this on their own row - or, cross
// checking another voter's receipt, on a shared row - well after the merge
// engine has destroyed the branches, which is why presence is checked
// against the object graph rather than branch names.
func VerifyRow(ctx context.Context, store *commitlog.Store, row []string) (bool, []string) {
	var missing []string
	for _, cell := range row {
		if cell == InsufficientCVRs {
			continue
		}
		if !store.HasRecord(ctx, commitlog.Digest(cell)) {
			missing = append(missing, cell)
		}
	}
	return len(missing) == 0, missing
}
