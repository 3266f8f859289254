// Package resolve maps the textual references of a finalized index to item
// ids. Resolution is a pure function of the index: the same index always
// yields the same links.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/jcdickinson/cratedoc/internal/index"
)

type Reason string

const (
	ReasonUnresolved Reason = Reason(index.CodeUnresolvedReference)
	ReasonAmbiguous  Reason = Reason(index.CodeAmbiguousReference)
	// ReasonExternal marks references into crates that are not indexed:
	// std, core, alloc, prelude names and declared dependencies.
	ReasonExternal Reason = "ExternalReference"
)

// ResolvedLink is an edge of the link graph. Ref indexes
// Index.References().
type ResolvedLink struct {
	From index.ItemID  `json:"from"`
	To   index.ItemID  `json:"to"`
	Kind index.RefKind `json:"kind"`
	Ref  int           `json:"ref"`
}

// Unresolved is a reference that did not resolve to an indexed item.
type Unresolved struct {
	Ref        int            `json:"ref"`
	From       index.ItemID   `json:"from"`
	RawText    string         `json:"raw_text"`
	Kind       index.RefKind  `json:"kind"`
	Reason     Reason         `json:"reason"`
	Candidates []index.ItemID `json:"candidates,omitempty"`
	Crate      string         `json:"crate,omitempty"` // external crate, when known
}

// Result holds the outcome of every reference of one index.
type Result struct {
	Hash       string
	Links      []ResolvedLink
	Unresolved []Unresolved

	link    []int32 // per reference: index into Links or -1
	failed  []int32 // per reference: index into Unresolved or -1
	implsOf map[index.ItemID][]index.ItemID
}

// Link returns the resolved link for reference ref.
func (r *Result) Link(ref int) (ResolvedLink, bool) {
	if ref < 0 || ref >= len(r.link) || r.link[ref] < 0 {
		return ResolvedLink{}, false
	}
	return r.Links[r.link[ref]], true
}

// Failure returns why reference ref did not resolve.
func (r *Result) Failure(ref int) (Unresolved, bool) {
	if ref < 0 || ref >= len(r.failed) || r.failed[ref] < 0 {
		return Unresolved{}, false
	}
	return r.Unresolved[r.failed[ref]], true
}

// Impls returns the impl blocks whose header names target as the
// implementing type or the implemented trait.
func (r *Result) Impls(target index.ItemID) []index.ItemID {
	return r.implsOf[target]
}

type Resolver struct {
	workers int
}

type Option func(*Resolver)

func WithWorkers(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.workers = n
		}
	}
}

func New(opts ...Option) *Resolver {
	r := &Resolver{workers: runtime.GOMAXPROCS(0)}
	for _, o := range opts {
		o(r)
	}
	return r
}

const chunk = 256

// Resolve resolves every reference of ix. It panics if ix was not produced
// by Builder.Finalize.
func (r *Resolver) Resolve(ctx context.Context, ix *index.Index) (*Result, error) {
	if !ix.Finalized() {
		panic("resolve: index is not finalized")
	}
	s := newState(ix)

	// Impl headers first: path descent into `Type::assoc` needs to know
	// which impls belong to which type.
	for _, id := range s.impls {
		it := s.items[id]
		if it.Impl.SelfRef >= 0 {
			ref := it.RefBase + it.Impl.SelfRef
			s.out[ref] = s.resolve(ref)
			s.done[ref] = true
			if o := s.out[ref]; o.reason == "" {
				s.implsFor[o.to] = append(s.implsFor[o.to], id)
				s.implSelf[id] = o.to
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for start := 0; start < len(s.refs); start += chunk {
		end := min(start+chunk, len(s.refs))
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i := start; i < end; i++ {
				if !s.done[i] {
					s.out[i] = s.resolve(i)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("resolving references: %w", err)
	}

	res := s.result(ix.ContentHash())
	slog.Debug("resolved references", "refs", len(s.refs), "links", len(res.Links), "unresolved", len(res.Unresolved))
	return res, nil
}

func (s *state) result(hash string) *Result {
	res := &Result{
		Hash:    hash,
		link:    make([]int32, len(s.refs)),
		failed:  make([]int32, len(s.refs)),
		implsOf: make(map[index.ItemID][]index.ItemID),
	}
	for _, id := range s.impls {
		it := s.items[id]
		for _, slot := range []int{it.Impl.SelfRef, it.Impl.TraitRef} {
			if slot < 0 {
				continue
			}
			if o := s.out[it.RefBase+slot]; o.reason == "" {
				res.implsOf[o.to] = append(res.implsOf[o.to], id)
			}
		}
	}
	for i, o := range s.out {
		ref := s.refs[i]
		res.link[i], res.failed[i] = -1, -1
		if o.reason == "" {
			res.link[i] = int32(len(res.Links))
			res.Links = append(res.Links, ResolvedLink{From: ref.From, To: o.to, Kind: ref.Kind, Ref: i})
			continue
		}
		cands := append([]index.ItemID(nil), o.cands...)
		sort.Slice(cands, func(a, b int) bool { return cands[a] < cands[b] })
		res.failed[i] = int32(len(res.Unresolved))
		res.Unresolved = append(res.Unresolved, Unresolved{
			Ref:        i,
			From:       ref.From,
			RawText:    ref.RawText,
			Kind:       ref.Kind,
			Reason:     o.reason,
			Candidates: cands,
			Crate:      o.crate,
		})
	}
	return res
}
