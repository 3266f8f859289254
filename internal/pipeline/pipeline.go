// Package pipeline drives a whole build: walk every crate root into one
// index, finalize it, resolve references and emit the output tree.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/jcdickinson/cratedoc/internal/emit"
	"github.com/jcdickinson/cratedoc/internal/index"
	"github.com/jcdickinson/cratedoc/internal/resolve"
	"github.com/jcdickinson/cratedoc/internal/walker"
)

type State int

const (
	Empty State = iota
	Walking
	Indexed
	Resolving
	Ready
)

var stateNames = []string{"empty", "walking", "indexed", "resolving", "ready"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown pipeline state %q", b)
}

// Event reports progress. Crate, Done and Total are set while walking.
type Event struct {
	State   State
	Crate   string
	Done    int
	Total   int
	Message string
}

// Stats summarizes the last successful run.
type Stats struct {
	Crates       int           `json:"crates"`
	Files        int           `json:"files"`
	Items        int           `json:"items"`
	Placeholders int           `json:"placeholders"`
	SyntaxErrors int           `json:"syntax_errors"`
	Links        int           `json:"links"`
	Unresolved   int           `json:"unresolved"`
	Duration     time.Duration `json:"duration"`
}

// Pipeline runs one build per source snapshot. Run is valid only from
// Empty; Reset returns a finished or failed pipeline to Empty.
type Pipeline struct {
	fs         afero.Fs
	walkerOpts []walker.Option
	resolver   *resolve.Resolver
	cache      *resolve.Cache
	strict     bool
	parallel   int
	emitOpts   []emit.Option
	progress   func(Event)

	mu    sync.Mutex
	state State
	ix    *index.Index
	res   *resolve.Result
	out   *emit.Output
	stats Stats
}

type Option func(*Pipeline)

// WithStrict makes missing module files fail the build.
func WithStrict(strict bool) Option {
	return func(p *Pipeline) { p.strict = strict }
}

// WithWorkers bounds concurrent crates, files per crate and resolution
// workers.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.parallel = n
			p.walkerOpts = append(p.walkerOpts, walker.WithWorkers(n))
			p.resolver = resolve.New(resolve.WithWorkers(n))
		}
	}
}

// WithCache reuses resolution results across runs of identical indexes.
func WithCache(c *resolve.Cache) Option {
	return func(p *Pipeline) { p.cache = c }
}

func WithLinkScheme(scheme string) Option {
	return func(p *Pipeline) { p.emitOpts = append(p.emitOpts, emit.WithLinkScheme(scheme)) }
}

// WithProgress registers a progress callback. It may be called from several
// goroutines at once.
func WithProgress(fn func(Event)) Option {
	return func(p *Pipeline) { p.progress = fn }
}

func New(fs afero.Fs, opts ...Option) *Pipeline {
	p := &Pipeline{fs: fs, resolver: resolve.New(), parallel: 4}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Output returns the emitted tree once the pipeline is Ready.
func (p *Pipeline) Output() (*emit.Output, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out, p.state == Ready
}

func (p *Pipeline) Index() (*index.Index, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ix, p.ix != nil
}

// Result returns the resolution result once the pipeline is Ready.
func (p *Pipeline) Result() (*resolve.Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.res, p.state == Ready
}

func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Reset discards every result and returns to Empty.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = Empty
	p.ix, p.res, p.out = nil, nil, nil
	p.stats = Stats{}
}

func (p *Pipeline) enter(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	p.emit(Event{State: s})
}

func (p *Pipeline) emit(ev Event) {
	if p.progress != nil {
		p.progress(ev)
	}
}

// Run builds roots into an output tree. Cancellation is honoured between
// crates: a crate whose walk has started is finished first. On error the
// pipeline returns to Empty. Run panics unless the pipeline is Empty.
func (p *Pipeline) Run(ctx context.Context, roots []walker.Root) (*emit.Output, error) {
	p.mu.Lock()
	if p.state != Empty {
		st := p.state
		p.mu.Unlock()
		panic(fmt.Sprintf("pipeline: Run called in state %s", st))
	}
	p.state = Walking
	p.mu.Unlock()
	p.emit(Event{State: Walking, Total: len(roots)})

	out, err := p.run(ctx, roots)
	if err != nil {
		p.Reset()
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) run(ctx context.Context, roots []walker.Root) (*emit.Output, error) {
	start := time.Now()
	if len(roots) == 0 {
		return nil, errors.New("no crate roots given")
	}

	b := index.NewBuilder()
	w := walker.New(p.fs, p.walkerOpts...)
	results := make([]*walker.Result, len(roots))
	var (
		doneMu sync.Mutex
		done   int
	)
	var g errgroup.Group
	g.SetLimit(p.parallel)
	for i, root := range roots {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			// A started crate runs to completion.
			r, err := w.Walk(context.WithoutCancel(ctx), root, b)
			if err != nil {
				return err
			}
			results[i] = r
			doneMu.Lock()
			done++
			n := done
			doneMu.Unlock()
			slog.Debug("walked crate", "crate", r.Crate, "files", r.Files, "items", r.Items)
			p.emit(Event{State: Walking, Crate: r.Crate, Done: n, Total: len(roots)})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("build cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("walking crates: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("build cancelled: %w", err)
	}

	ix, err := b.Finalize(p.strict)
	if err != nil {
		return nil, fmt.Errorf("finalizing index: %w", err)
	}
	p.mu.Lock()
	p.ix = ix
	p.mu.Unlock()
	p.enter(Indexed)

	p.enter(Resolving)
	var res *resolve.Result
	if p.cache != nil {
		res, err = p.cache.Resolve(ctx, ix)
	} else {
		res, err = p.resolver.Resolve(ctx, ix)
	}
	if err != nil {
		return nil, err
	}
	out := emit.Emit(ix, res, p.emitOpts...)

	stats := Stats{
		Crates:     len(roots),
		Items:      ix.Len(),
		Links:      len(res.Links),
		Unresolved: len(res.Unresolved),
		Duration:   time.Since(start),
	}
	for _, r := range results {
		stats.Files += r.Files
		stats.Placeholders += r.Placeholders
		stats.SyntaxErrors += r.SyntaxErrors
	}

	p.mu.Lock()
	p.res, p.out, p.stats = res, out, stats
	p.mu.Unlock()
	p.enter(Ready)
	slog.Info("build ready", "crates", stats.Crates, "items", stats.Items, "links", stats.Links,
		"unresolved", stats.Unresolved, "duration", stats.Duration)
	return out, nil
}
