package commitlog

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/votetrail/go-cvrlog/election"
)

// cvrTokenBytes gives the 10 hex character branch token, 40 bits of
// cryptographic entropy.
const cvrTokenBytes = 5

// NewCVRBranchName constructs a fresh submission branch name for a contest:
// CVRs/<uid>/<random-token>. The token comes from the CSPRNG; uniqueness is
// still enforced by the exclusive claim on the remote.
func NewCVRBranchName(uid string) (string, error) {
	token := make([]byte, cvrTokenBytes)
	if _, err := rand.Read(token); err != nil {
		return "", err
	}
	return election.ContestFileSubdir + "/" + uid + "/" + hex.EncodeToString(token), nil
}

// ParseCVRBranch extracts the contest uid from a CVR branch name, tolerating
// the remote ref prefix. ok is false for non CVR branches such as main.
func ParseCVRBranch(name string) (uid string, ok bool) {
	name = strings.TrimPrefix(name, RemoteRefPrefix)
	rest, found := strings.CutPrefix(name, election.ContestFileSubdir+"/")
	if !found {
		return "", false
	}
	uid, _, found = strings.Cut(rest, "/")
	if !found || uid == "" {
		return "", false
	}
	return uid, true
}
