// Package member produces report proofs on the reporter's side. Nothing here
// talks to the network; callers pass in the membership state they fetched.
package member

import (
	"context"
	"errors"
	"fmt"

	"anonreport/internal/apperr"
	"anonreport/internal/content"
	"anonreport/internal/identity"
	"anonreport/internal/membership"
	"anonreport/internal/zk"
	"anonreport/internal/zk/reportzk"
)

// State is the membership view published by the server.
type State struct {
	Root    zk.Hash   `json:"root"`
	Epoch   uint64    `json:"epoch"`
	Leaves  []zk.Hash `json:"leaves"`
	Revoked []zk.Hash `json:"revoked"`
	Scope   string    `json:"scope"`
	Depth   int       `json:"depth"`
}

// Report is a proven report ready to submit.
type Report struct {
	ContentRef content.Ref
	Tags       []string
	Supersedes *uint64
	Proof      zk.Proof
	Nullifier  zk.Hash
	Root       zk.Hash
	Signal     zk.Hash
}

// Generator wraps a prover with the local membership checks.
type Generator struct {
	prover *zk.Prover
}

func NewGenerator(p *zk.Prover) *Generator {
	return &Generator{prover: p}
}

// Prove proves that id is a member of st and binds the report to the proof.
// It fails fast with ErrRevokedIdentity or ErrSecretNotInSet before doing any
// proving work. Cancelling ctx abandons the proof without side effects.
func (g *Generator) Prove(ctx context.Context, id *identity.Identity, st State, ref content.Ref, tags []string, supersedes *uint64) (Report, error) {
	if st.Depth != 0 && st.Depth != reportzk.Depth {
		return Report{}, fmt.Errorf("server tree depth %d, circuit depth %d", st.Depth, reportzk.Depth)
	}
	c := identity.CommitmentOf(id)
	for _, r := range st.Revoked {
		if r == c {
			return Report{}, apperr.ErrRevokedIdentity
		}
	}

	tree, err := membership.BuildTree(st.Leaves)
	if err != nil {
		return Report{}, err
	}
	if tree.Root() != st.Root {
		return Report{}, errors.New("membership leaves do not match the published root")
	}
	index, ok := tree.IndexOf(c)
	if !ok {
		return Report{}, apperr.ErrSecretNotInSet
	}
	path, err := tree.Path(index)
	if err != nil {
		return Report{}, err
	}

	scope, err := zk.ParseScope(st.Scope)
	if err != nil {
		return Report{}, err
	}
	action, err := scope.ActionContext(ref)
	if err != nil {
		return Report{}, err
	}
	tags = zk.NormalizeTags(tags)
	signal, err := zk.Signal(ref, tags, supersedes)
	if err != nil {
		return Report{}, err
	}

	proof, err := g.prover.Prove(ctx, zk.Statement{
		Secret:        id.Secret,
		Path:          path,
		Root:          st.Root,
		ActionContext: action,
		Signal:        signal,
	})
	if err != nil {
		return Report{}, err
	}
	return Report{
		ContentRef: ref,
		Tags:       tags,
		Supersedes: supersedes,
		Proof:      proof,
		Nullifier:  proof.Public.Nullifier,
		Root:       st.Root,
		Signal:     signal,
	}, nil
}
