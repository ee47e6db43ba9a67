package reportzk

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// Depth is the membership tree depth; the tree holds 1<<Depth commitments.
const Depth = 16

// Domain separators for the MiMC calls shared with the native hashes in
// package zk. Changing any of them changes every commitment and nullifier.
const (
	DomainCommitment = 1
	DomainNullifier  = 2
)

// ReportCircuit proves:
//   - the prover knows Secret with MiMC(DomainCommitment, Secret) at leaf
//     LeafIndex of the tree whose root is Root
//   - Nullifier = MiMC(DomainNullifier, Secret, ActionContext)
//   - Signal is bound to the proof
//
// Neither the commitment nor the leaf index is public.
type ReportCircuit struct {
	// ===== Private witness =====
	Secret        frontend.Variable
	PathElements  [Depth]frontend.Variable
	LeafIndex     frontend.Variable
	SignalSquared frontend.Variable

	// ===== Public signals =====
	Root          frontend.Variable `gnark:",public"`
	Nullifier     frontend.Variable `gnark:",public"`
	ActionContext frontend.Variable `gnark:",public"`
	Signal        frontend.Variable `gnark:",public"`
}

func (c *ReportCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	// --- commitment ---
	h.Write(DomainCommitment, c.Secret)
	leaf := h.Sum()

	// --- membership ---
	api.AssertIsEqual(merkleRoot(api, &h, leaf, c.LeafIndex, c.PathElements), c.Root)

	// --- nullifier ---
	h.Reset()
	h.Write(DomainNullifier, c.Secret, c.ActionContext)
	api.AssertIsEqual(h.Sum(), c.Nullifier)

	// --- signal binding ---
	// Signal takes part in no other constraint; without this one a proof
	// could be replayed with a different signal.
	api.AssertIsEqual(api.Mul(c.Signal, c.Signal), c.SignalSquared)

	return nil
}

// merkleRoot walks from leaf to the root. Bit i of index selects whether the
// running hash is the right (1) or left (0) child at level i.
func merkleRoot(api frontend.API, h *mimc.MiMC, leaf, index frontend.Variable, path [Depth]frontend.Variable) frontend.Variable {
	bits := api.ToBinary(index, Depth)
	cur := leaf
	for i := 0; i < Depth; i++ {
		left := api.Select(bits[i], path[i], cur)
		right := api.Select(bits[i], cur, path[i])
		h.Reset()
		h.Write(left, right)
		cur = h.Sum()
	}
	return cur
}
