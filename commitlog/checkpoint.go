package commitlog

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

// Checkpoint commits to the head of the canonical history at a point in
// time. It is published after merge runs so observers can detect any later
// rewrite of main.
type Checkpoint struct {
	// MainHead is the digest of the main branch head being sealed.
	MainHead string `cbor:"1,keyasint"`
	// PendingCount is the total pending pool size at sealing time.
	PendingCount int `cbor:"2,keyasint"`
	// Timestamp is unix milliseconds at sealing time. Unlike commit dates
	// it carries real time: a checkpoint attests "main looked like this no
	// later than...", and it never participates in commit digests.
	Timestamp int64 `cbor:"3,keyasint"`
}

// CheckpointSigner seals checkpoints with COSE Sign1. Neither the signer nor
// SealMain checks the new head against previously sealed heads.
type CheckpointSigner struct {
	issuer string
	key    *ecdsa.PrivateKey
	alg    cose.Algorithm
}

func NewCheckpointSigner(issuer string, key *ecdsa.PrivateKey) *CheckpointSigner {
	return &CheckpointSigner{issuer: issuer, key: key, alg: cose.AlgorithmES256}
}

// Sign1 produces the encoded COSE Sign1 message over the checkpoint state.
func (cs *CheckpointSigner) Sign1(state Checkpoint) ([]byte, error) {
	signer, err := cose.NewSigner(cs.alg, cs.key)
	if err != nil {
		return nil, err
	}
	payload, err := cbor.Marshal(&state)
	if err != nil {
		return nil, err
	}
	msg := cose.Sign1Message{
		Headers: cose.Headers{
			Protected: cose.ProtectedHeader{
				cose.HeaderLabelAlgorithm: cs.alg,
				cose.HeaderLabelKeyID:     []byte(cs.issuer),
			},
		},
		Payload: payload,
	}
	if err = msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, err
	}
	return msg.MarshalCBOR()
}

// SealMain signs a checkpoint over the current local main head and records
// it in the remote object store under the scope's checkpoints prefix, keyed
// by the sealed head digest.
func (s *Store) SealMain(ctx context.Context, cs *CheckpointSigner, pendingCount int, timestamp int64) error {
	if s.dryRun {
		s.log.Infof("dryrun: seal main")
		return nil
	}
	head, err := s.local.ReadRef(ctx, s.Cfg.MainBranch)
	if err != nil {
		return err
	}
	sealed, err := cs.Sign1(Checkpoint{
		MainHead:     string(head),
		PendingCount: pendingCount,
		Timestamp:    timestamp,
	})
	if err != nil {
		return err
	}
	p := fmt.Sprintf("checkpoints/%s/%s", s.Cfg.Scope, head)
	return s.remote.store.Put(ctx, p, sealed, false)
}

// VerifyCheckpoint checks the seal signature and decodes the checkpoint.
func VerifyCheckpoint(data []byte, pub *ecdsa.PublicKey) (*Checkpoint, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(data); err != nil {
		return nil, err
	}
	verifier, err := cose.NewVerifier(cose.AlgorithmES256, pub)
	if err != nil {
		return nil, err
	}
	if err = msg.Verify(nil, verifier); err != nil {
		return nil, err
	}
	ckpt := &Checkpoint{}
	if err = cbor.Unmarshal(msg.Payload, ckpt); err != nil {
		return nil, err
	}
	return ckpt, nil
}
