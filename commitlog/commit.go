package commitlog

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// DeterministicDate is the fixed author and committer date stamped on every
// commit. Fixing the dates makes a commit's digest depend only on its
// payload and ancestry, and stops commit metadata distinguishing one voter's
// CVR from another's. The constant must never change within an election:
// digests recorded on issued receipts depend on it.
const DeterministicDate = "2022-01-01T12:00:00"

// CommitContext carries the commit metadata for one log writing operation.
// It replaces process wide environment state: every commit producing call
// takes the dates explicitly.
type CommitContext struct {
	AuthorDate    string
	CommitterDate string
}

// DeterministicCommitContext returns the commit context all production
// operations use.
func DeterministicCommitContext() CommitContext {
	return CommitContext{
		AuthorDate:    DeterministicDate,
		CommitterDate: DeterministicDate,
	}
}

// Commit is one object in the append only graph. A CVR commit has a single
// parent and carries one contest's JSON serialization as its payload. A
// merge commit has two parents (main, then the merged CVR branch) and
// carries the server generated witness.
//
// The integer cbor keys are part of the wire format; the digest of a commit
// is the sha256 of its canonical CBOR encoding.
type Commit struct {
	Parents       []string `cbor:"1,keyasint"`
	Path          string   `cbor:"2,keyasint"`
	Payload       []byte   `cbor:"3,keyasint"`
	Message       string   `cbor:"4,keyasint,omitempty"`
	AuthorDate    string   `cbor:"5,keyasint"`
	CommitterDate string   `cbor:"6,keyasint"`
}

var (
	commitEnc cbor.EncMode
	commitDec cbor.DecMode
)

func init() {
	var err error
	if commitEnc, err = cbor.CanonicalEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if commitDec, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

func encodeCommit(c *Commit) ([]byte, Digest, error) {
	data, err := commitEnc.Marshal(c)
	if err != nil {
		return nil, "", err
	}
	return data, objectDigest(data), nil
}

func decodeCommit(data []byte) (*Commit, error) {
	c := &Commit{}
	if err := commitDec.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptObject, err)
	}
	return c, nil
}
