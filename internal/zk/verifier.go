package zk

import (
	"bytes"
	"fmt"

	"anonreport/internal/apperr"
	"anonreport/internal/zk/reportzk"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
)

// Verifier checks report proofs against a verifying key.
type Verifier struct {
	vk groth16.VerifyingKey
}

func NewVerifier(vk groth16.VerifyingKey) *Verifier {
	return &Verifier{vk: vk}
}

// Verify returns nil when p proves membership under p.Public.Root with the
// given nullifier, action context and signal. Every failure wraps
// apperr.ErrInvalidProof.
func (v *Verifier) Verify(p Proof) error {
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(p.Raw)); err != nil {
		return fmt.Errorf("%w: deserialize proof: %v", apperr.ErrInvalidProof, err)
	}

	assignment := reportzk.ReportCircuit{
		Root:          p.Public.Root.BigInt(),
		Nullifier:     p.Public.Nullifier.BigInt(),
		ActionContext: p.Public.ActionContext.BigInt(),
		Signal:        p.Public.Signal.BigInt(),
	}
	public, err := frontend.NewWitness(&assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("%w: build public witness: %v", apperr.ErrInvalidProof, err)
	}
	if err := groth16.Verify(proof, v.vk, public); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidProof, err)
	}
	return nil
}
