package zk

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"anonreport/internal/zk/reportzk"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
)

// MerklePath is a leaf position plus the sibling at each level, leaf first.
type MerklePath struct {
	Index    uint64
	Siblings [reportzk.Depth]Hash
}

// RootFrom recomputes the root reached from leaf along p.
func (p MerklePath) RootFrom(leaf Hash) Hash {
	cur := leaf
	for i := 0; i < reportzk.Depth; i++ {
		if (p.Index>>uint(i))&1 == 1 {
			cur = HashNodes(p.Siblings[i], cur)
		} else {
			cur = HashNodes(cur, p.Siblings[i])
		}
	}
	return cur
}

// Statement is everything the prover needs besides the keys.
type Statement struct {
	Secret        Hash
	Path          MerklePath
	Root          Hash
	ActionContext Hash
	Signal        Hash
}

// Prover generates report proofs. At most one proving run is in flight per
// Prover, including runs whose caller has given up.
type Prover struct {
	cs    constraint.ConstraintSystem
	pk    groth16.ProvingKey
	slot  chan struct{}
	prove func(witness.Witness) (groth16.Proof, error)
}

func NewProver(cs constraint.ConstraintSystem, pk groth16.ProvingKey) *Prover {
	p := &Prover{cs: cs, pk: pk, slot: make(chan struct{}, 1)}
	p.prove = func(w witness.Witness) (groth16.Proof, error) {
		return groth16.Prove(p.cs, p.pk, w)
	}
	return p
}

// Prove runs groth16 proving. It returns ctx.Err() as soon as ctx is done. An
// abandoned run keeps the slot until it finishes, so a retry waits for it
// instead of proving alongside it.
func (p *Prover) Prove(ctx context.Context, st Statement) (Proof, error) {
	if err := ctx.Err(); err != nil {
		return Proof{}, err
	}
	if st.Path.Index >= 1<<reportzk.Depth {
		return Proof{}, fmt.Errorf("leaf index out of range")
	}
	nullifier := Nullifier(st.Secret, st.ActionContext)
	assignment := reportzk.ReportCircuit{
		Secret:        st.Secret.BigInt(),
		LeafIndex:     st.Path.Index,
		SignalSquared: signalSquared(st.Signal),
		Root:          st.Root.BigInt(),
		Nullifier:     nullifier.BigInt(),
		ActionContext: st.ActionContext.BigInt(),
		Signal:        st.Signal.BigInt(),
	}
	for i := range st.Path.Siblings {
		assignment.PathElements[i] = st.Path.Siblings[i].BigInt()
	}

	w, err := frontend.NewWitness(&assignment, ecc.BN254.ScalarField())
	if err != nil {
		return Proof{}, fmt.Errorf("build witness: %w", err)
	}

	type result struct {
		proof groth16.Proof
		err   error
	}
	select {
	case p.slot <- struct{}{}:
	case <-ctx.Done():
		return Proof{}, ctx.Err()
	}
	done := make(chan result, 1)
	go func() {
		defer func() { <-p.slot }()
		proof, err := p.prove(w)
		done <- result{proof: proof, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return Proof{}, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return Proof{}, fmt.Errorf("generate proof: %w", res.err)
	}

	var buf bytes.Buffer
	if _, err := res.proof.WriteTo(&buf); err != nil {
		return Proof{}, fmt.Errorf("serialize proof: %w", err)
	}
	return Proof{
		System: ProofSystem,
		Curve:  ProofCurve,
		Public: PublicInputs{
			Root:          st.Root,
			Nullifier:     nullifier,
			ActionContext: st.ActionContext,
			Signal:        st.Signal,
		},
		Raw: buf.Bytes(),
	}, nil
}

func signalSquared(signal Hash) *big.Int {
	var e fr.Element
	e.SetBytes(signal[:])
	e.Square(&e)
	var out big.Int
	e.BigInt(&out)
	return &out
}
