// Package election holds the election wide configuration and the handful of
// constants every node in a voting center deployment must agree on.
package election

// These values are fixed for the lifetime of an election. Changing any of
// them mid-election invalidates receipts already handed to voters.
const (
	// ContestFileSubdir is the directory, relative to the state/town scope,
	// under which contest CVR payloads are recorded. It is also the leading
	// segment of every CVR branch name.
	ContestFileSubdir = "CVRs"

	// ContestFile is the single payload file carried by a CVR commit.
	ContestFile = "contest.json"

	// MainBranch is the canonical history all CVR branches merge into.
	MainBranch = "main"

	// BallotReceiptRows is the number of rows on a voter's ballot receipt.
	// The voter's own row is hidden among the other rows.
	BallotReceiptRows = 100

	// MinimumCastCache is the default k-anonymity threshold. The merge
	// engine will not shrink a contest's pending pool below this without an
	// explicit flush.
	MinimumCastCache = 100

	// BlankBallotSubdir is the trailing path of directories holding blank
	// ballot JSON files.
	BlankBallotSubdir = "blank-ballots/json"

	// BallotFileSuffix is the trailing segment of blank and cast ballot
	// file names.
	BallotFileSuffix = ",ballot.json"
)
