// Package receipt builds the voter's ballot receipt: a table of contest
// digests in which the voter's own row is hidden among rows drawn from the
// not yet merged pool, so any single receipt reveals nothing about which
// row is the voter's.
package receipt

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/google/uuid"

	"github.com/votetrail/go-cvrlog/ballot"
	"github.com/votetrail/go-cvrlog/commitlog"
	"github.com/votetrail/go-cvrlog/election"
)

// InsufficientCVRs is the cell sentinel for a column whose pending pool ran
// out. Any column containing it is redacted on the printed receipt.
const InsufficientCVRs = "INSUFFICIENT_CVRS"

type BuilderConfig struct {
	// Rows is the receipt depth, election.BallotReceiptRows by default.
	Rows int
}

type Builder struct {
	Cfg BuilderConfig
	log logger.Logger
}

func NewBuilder(cfg BuilderConfig, log logger.Logger) *Builder {
	if cfg.Rows <= 0 {
		cfg.Rows = election.BallotReceiptRows
	}
	return &Builder{Cfg: cfg, log: log}
}

// Receipt is the built ballot receipt. A degraded receipt has no rows and
// VotersRow zero; it is handed back when the pending pool cannot hide the
// voter among Rows other submissions.
type Receipt struct {
	Header []string
	// Rows has exactly the configured depth, one digest per column per
	// row. Rows are 1-indexed when referenced to the voter.
	Rows [][]string
	// VotersRow is the 1-indexed row holding the voter's own digests.
	VotersRow int
	// Redacted lists contest uids whose column hit InsufficientCVRs.
	Redacted []string
}

func (r *Receipt) Degraded() bool { return r.VotersRow == 0 }

// Build assembles the receipt for a just submitted ballot. receipts is the
// voter's digest per contest uid; pool is the pre submission pending pool
// snapshot. The pool sequences are not modified.
func (b *Builder) Build(
	blt *ballot.Ballot,
	receipts map[string]commitlog.Digest,
	pool map[string][]commitlog.CVREntry,
) *Receipt {

	b.log.Debugf("ballot digests: %v", receipts)

	uids := make([]string, 0, len(blt.Contests))
	for _, c := range blt.Contests {
		if _, ok := receipts[c.UID]; ok {
			uids = append(uids, c.UID)
		}
	}

	// The voter cannot be hidden unless every contest already has a full
	// receipt's worth of other submissions pending.
	skip := false
	for _, uid := range uids {
		entries, ok := pool[uid]
		if !ok {
			b.log.Warnf("no unmerged CVRs yet for contest %s", uid)
			skip = true
			continue
		}
		if len(entries) < b.Cfg.Rows {
			b.log.Warnf("not enough unmerged CVRs (%d) to print a receipt for contest %s", len(entries), uid)
			skip = true
		}
	}
	if skip {
		b.log.Warnf("skipping ballot receipt due to lack of unmerged CVRs")
		return &Receipt{}
	}

	shuffled := make(map[string][]commitlog.CVREntry, len(uids))
	for _, uid := range uids {
		entries := make([]commitlog.CVREntry, len(pool[uid]))
		copy(entries, pool[uid])
		rand.Shuffle(len(entries), func(i, j int) {
			entries[i], entries[j] = entries[j], entries[i]
		})
		shuffled[uid] = entries
	}

	r := &Receipt{VotersRow: rand.IntN(b.Cfg.Rows) + 1}
	redacted := map[string]bool{}

	for _, uid := range uids {
		name := strings.ReplaceAll(blt.ContestNameByUID(uid), `"`, "'")
		r.Header = append(r.Header, fmt.Sprintf("%s - %s", uid, name))
	}

	// The full depth is walked even though the voter's row is inserted:
	// the voter's own digest may also sit in the shuffled pool, and when
	// it surfaces on a non voter row it is swapped for the pool digest
	// the voter's row displaced.
	for row := 0; row < b.Cfg.Rows; row++ {
		if row == r.VotersRow-1 {
			var cells []string
			for _, uid := range uids {
				cells = append(cells, string(receipts[uid]))
			}
			r.Rows = append(r.Rows, cells)
			continue
		}
		var cells []string
		for _, uid := range uids {
			entries := shuffled[uid]
			switch {
			case row >= len(entries):
				redacted[uid] = true
				cells = append(cells, InsufficientCVRs)
			case entries[row].Digest == receipts[uid]:
				if r.VotersRow-1 >= len(entries) {
					redacted[uid] = true
					cells = append(cells, InsufficientCVRs)
				} else {
					cells = append(cells, string(entries[r.VotersRow-1].Digest))
				}
			default:
				cells = append(cells, string(entries[row].Digest))
			}
		}
		r.Rows = append(r.Rows, cells)
	}

	for _, uid := range uids {
		if redacted[uid] {
			r.Redacted = append(r.Redacted, uid)
		}
	}
	return r
}

// WriteCSV serializes the receipt, header first.
func (r *Receipt) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(r.Header); err != nil {
		return err
	}
	for _, row := range r.Rows {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes the receipt CSV into a fresh voter specific directory
// under dir and returns the file path.
func (b *Builder) WriteFile(r *Receipt, dir string) (string, error) {
	voterDir := filepath.Join(dir, uuid.NewString())
	if err := os.MkdirAll(voterDir, 0o755); err != nil {
		return "", err
	}
	p := filepath.Join(voterDir, "receipt.csv")
	f, err := os.Create(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err = r.WriteCSV(f); err != nil {
		return "", err
	}
	return p, nil
}
