// Package submission runs the server-side checks on an anonymous report and
// appends it to the registry when they pass.
package submission

import (
	"context"
	"errors"
	"fmt"

	"anonreport/internal/apperr"
	"anonreport/internal/content"
	"anonreport/internal/membership"
	"anonreport/internal/registry"
	"anonreport/internal/zk"

	"github.com/rs/zerolog"
)

// State is a step of one submission attempt.
type State string

const (
	Received         State = "RECEIVED"
	RootChecked      State = "ROOT_CHECKED"
	ProofChecked     State = "PROOF_CHECKED"
	NullifierChecked State = "NULLIFIER_CHECKED"
	Accepted         State = "ACCEPTED"
	Rejected         State = "REJECTED"
)

// Submission is a decoded report submission.
type Submission struct {
	ContentRef     content.Ref
	Tags           []string
	Supersedes     *uint64
	Proof          zk.Proof
	Nullifier      zk.Hash
	MembershipRoot zk.Hash
	Signal         zk.Hash
}

// Outcome describes how far an attempt got.
type Outcome struct {
	State    State
	Trail    []State
	Entry    registry.Entry
	Replayed bool
}

func (o *Outcome) advance(s State) {
	o.State = s
	o.Trail = append(o.Trail, s)
}

// ProofVerifier checks the cryptographic validity of a proof.
type ProofVerifier interface {
	Verify(p zk.Proof) error
}

// ContentIndex reports whether referenced content exists.
type ContentIndex interface {
	Has(ref content.Ref) bool
}

// Verifier owns the per-attempt state machine. It holds no per-attempt state
// and is safe for concurrent use.
type Verifier struct {
	set      *membership.Set
	proofs   ProofVerifier
	registry *registry.Registry
	scope    zk.Scope
	content  ContentIndex
	log      zerolog.Logger
}

// NewVerifier builds a Verifier. contents may be nil to skip the
// content-existence check.
func NewVerifier(set *membership.Set, proofs ProofVerifier, reg *registry.Registry, scope zk.Scope, contents ContentIndex, log zerolog.Logger) *Verifier {
	return &Verifier{
		set:      set,
		proofs:   proofs,
		registry: reg,
		scope:    scope,
		content:  contents,
		log:      log.With().Str("component", "submission").Logger(),
	}
}

// Submit runs every check and appends the report. Resubmitting a bundle that
// was already accepted returns the original entry with Replayed set.
func (v *Verifier) Submit(ctx context.Context, s Submission) (Outcome, error) {
	return v.run(ctx, s, true)
}

// Check runs the same checks without consuming the nullifier or writing.
func (v *Verifier) Check(ctx context.Context, s Submission) (Outcome, error) {
	return v.run(ctx, s, false)
}

func (v *Verifier) run(ctx context.Context, s Submission, commit bool) (Outcome, error) {
	var out Outcome
	out.advance(Received)
	reject := func(err error) (Outcome, error) {
		out.advance(Rejected)
		if errors.Is(err, apperr.ErrInvalidProof) {
			v.log.Warn().Stringer("nullifier", s.Nullifier).Err(err).Msg("proof rejected")
		}
		return out, err
	}

	digest, err := s.Proof.Digest()
	if err != nil {
		return reject(apperr.BadRequest("unencodable proof"))
	}
	if err := v.checkStatement(ctx, s); err != nil {
		return reject(err)
	}

	if commit {
		if prior, ok := v.replayOf(ctx, s.Nullifier, digest); ok {
			out.Entry = prior
			out.Replayed = true
			out.advance(Accepted)
			return out, nil
		}
	}

	if _, err := v.set.CheckFresh(s.MembershipRoot); err != nil {
		return reject(err)
	}
	out.advance(RootChecked)

	if err := v.proofs.Verify(s.Proof); err != nil {
		return reject(err)
	}
	out.advance(ProofChecked)

	if !commit {
		if _, err := v.registry.ByNullifier(ctx, s.Nullifier); err == nil {
			return reject(apperr.ErrDuplicateSubmission)
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return reject(err)
		}
		out.advance(NullifierChecked)
		return out, nil
	}

	entry, err := v.registry.Append(ctx, registry.Entry{
		ContentRef:     s.ContentRef,
		Tags:           zk.NormalizeTags(s.Tags),
		Nullifier:      s.Nullifier,
		MembershipRoot: s.MembershipRoot,
		ActionContext:  s.Proof.Public.ActionContext,
		Signal:         s.Signal,
		Supersedes:     s.Supersedes,
		ProofDigest:    digest,
	})
	if err != nil {
		if existing, ok := registry.AsDuplicate(err); ok && existing.ProofDigest == digest {
			// Lost a race with our own retry.
			out.advance(NullifierChecked)
			out.Entry = existing
			out.Replayed = true
			out.advance(Accepted)
			return out, nil
		}
		return reject(err)
	}
	out.advance(NullifierChecked)
	out.Entry = entry
	out.advance(Accepted)
	return out, nil
}

// checkStatement ties the proof's public inputs to the request: the fields the
// client sent, the action context the configured scope demands, and a signal
// recomputed from the content reference, tags and supersedes.
func (v *Verifier) checkStatement(ctx context.Context, s Submission) error {
	pub := s.Proof.Public
	if pub.Nullifier != s.Nullifier || pub.Root != s.MembershipRoot || pub.Signal != s.Signal {
		return fmt.Errorf("%w: request fields differ from proof public inputs", apperr.ErrInvalidProof)
	}
	if v.content != nil && !v.content.Has(s.ContentRef) {
		return apperr.BadRequest("unknown content_ref")
	}
	if s.Supersedes != nil {
		if _, err := v.registry.Get(ctx, *s.Supersedes); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return apperr.BadRequest("supersedes names an unknown report")
			}
			return err
		}
	}
	action, err := v.scope.ActionContext(s.ContentRef)
	if err != nil {
		return err
	}
	if pub.ActionContext != action {
		return fmt.Errorf("%w: action context does not match scope %s", apperr.ErrInvalidProof, v.scope)
	}
	signal, err := zk.Signal(s.ContentRef, s.Tags, s.Supersedes)
	if err != nil {
		return err
	}
	if signal != s.Signal {
		return fmt.Errorf("%w: signal does not match content", apperr.ErrInvalidProof)
	}
	return nil
}

// replayOf returns the entry already accepted for exactly this bundle.
func (v *Verifier) replayOf(ctx context.Context, n zk.Hash, digest [32]byte) (registry.Entry, bool) {
	e, err := v.registry.ByNullifier(ctx, n)
	if err != nil || e.ProofDigest != digest {
		return registry.Entry{}, false
	}
	return e, true
}
