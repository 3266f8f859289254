package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	"github.com/jcdickinson/cratedoc/internal/cas"
	"github.com/jcdickinson/cratedoc/internal/config"
	"github.com/jcdickinson/cratedoc/internal/emit"
	"github.com/jcdickinson/cratedoc/internal/index"
	"github.com/jcdickinson/cratedoc/internal/pipeline"
	"github.com/jcdickinson/cratedoc/internal/resolve"
	"github.com/jcdickinson/cratedoc/internal/rpc"
	"github.com/jcdickinson/cratedoc/internal/store"
	"github.com/jcdickinson/cratedoc/internal/walker"
)

// build is a finished, Ready build.
type build struct {
	out   *emit.Output
	stats pipeline.Stats
}

type Server struct {
	cfg        *config.Config
	fs         afero.Fs
	db         *store.DB // nil when the store is disabled
	blobs      *cas.Store
	cache      *resolve.Cache
	snapshots  string
	socketPath string
	httpServer *http.Server
	listener   net.Listener

	mu         sync.Mutex
	expTimer   *time.Timer
	expiration time.Duration

	buildGroup singleflight.Group

	stateMu sync.RWMutex
	roots   []walker.Root
	current *build
	active  *pipeline.Pipeline
}

type Option func(*Server)

// WithFS sets the filesystem crates and snapshots are read from.
func WithFS(fs afero.Fs) Option {
	return func(s *Server) { s.fs = fs }
}

func WithSnapshotDir(dir string) Option {
	return func(s *Server) { s.snapshots = dir }
}

func NewServer(cfg *config.Config, database *store.DB, blobs *cas.Store, socketPath string, opts ...Option) (*Server, error) {
	expSec := cfg.Daemon.ExpirationSeconds
	if expSec <= 0 {
		expSec = 600
	}
	entries := cfg.Cache.Entries
	if entries <= 0 {
		entries = 16
	}
	cache, err := resolve.NewCache(resolve.New(resolve.WithWorkers(cfg.Build.Workers)), entries)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        cfg,
		fs:         afero.NewOsFs(),
		db:         database,
		blobs:      blobs,
		cache:      cache,
		snapshots:  config.SnapshotDir(),
		socketPath: socketPath,
		expiration: time.Duration(expSec) * time.Second,
		roots:      slices.Clone(cfg.Crates),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /build", s.withExpReset(s.handleBuild))
	mux.HandleFunc("POST /get-doc", s.withExpReset(s.handleGetDoc))
	mux.HandleFunc("POST /lookup", s.withExpReset(s.handleLookup))
	mux.HandleFunc("GET /status", s.withExpReset(s.handleStatus))
	mux.HandleFunc("POST /clear-cache", s.withExpReset(s.handleClearCache))
	mux.HandleFunc("POST /shutdown", s.handleShutdown)
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	os.Remove(s.socketPath)

	if err := s.loadSnapshot(); err != nil {
		slog.Warn("daemon: ignoring saved snapshot", "error", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("setting socket permissions: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{Handler: s.routes()}

	s.mu.Lock()
	s.expTimer = time.AfterFunc(s.expiration, s.expire)
	s.mu.Unlock()

	slog.Info("daemon: listening", "socket", s.socketPath, "expiration", s.expiration)

	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			slog.Error("daemon: shutdown", "error", err)
			errs = append(errs, err)
		}
	}
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Error("daemon: listener close", "error", err)
			errs = append(errs, err)
		}
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		slog.Error("daemon: socket remove", "error", err)
		errs = append(errs, err)
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("daemon: db close", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) expire() {
	slog.Info("daemon: expiring due to inactivity")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
	os.Exit(0)
}

func (s *Server) resetExpiration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expTimer != nil {
		s.expTimer.Stop()
		s.expTimer.Reset(s.expiration)
	}
}

func (s *Server) withExpReset(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.resetExpiration()
		handler(w, r)
	}
}

// latest returns the last Ready build, or nil.
func (s *Server) latest() *build {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.current
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	var req rpc.BuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	var sendMu sync.Mutex
	enc := json.NewEncoder(w)
	send := func(line rpc.ProgressLine) bool {
		sendMu.Lock()
		defer sendMu.Unlock()
		if err := enc.Encode(line); err != nil {
			slog.Debug("daemon: client disconnected", "error", err)
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	roots := s.nextRoots(req)
	result := s.build(roots, req.Strict || s.cfg.Build.Strict, func(ev pipeline.Event) {
		send(rpc.ProgressLine{
			Type:    "progress",
			State:   ev.State,
			Crate:   ev.Crate,
			Done:    ev.Done,
			Total:   ev.Total,
			Message: describe(ev),
		})
	})
	send(rpc.ProgressLine{Type: "result", Result: &result})
}

func describe(ev pipeline.Event) string {
	if ev.Message != "" {
		return ev.Message
	}
	if ev.Crate != "" {
		return fmt.Sprintf("walked %s (%d/%d)", ev.Crate, ev.Done, ev.Total)
	}
	if ev.State == pipeline.Walking {
		return fmt.Sprintf("walking %d crates", ev.Total)
	}
	return ev.State.String()
}

// nextRoots returns the crate set a build request asks for.
func (s *Server) nextRoots(req rpc.BuildRequest) []walker.Root {
	if req.Replace {
		if len(req.Crates) == 0 {
			return slices.Clone(s.cfg.Crates)
		}
		return slices.Clone(req.Crates)
	}
	s.stateMu.RLock()
	roots := slices.Clone(s.roots)
	s.stateMu.RUnlock()
	for _, add := range req.Crates {
		i := slices.IndexFunc(roots, func(r walker.Root) bool { return r.Path == add.Path })
		if i >= 0 {
			roots[i] = add
		} else {
			roots = append(roots, add)
		}
	}
	return roots
}

func rootsKey(roots []walker.Root, strict bool) string {
	keys := make([]string, len(roots))
	for i, r := range roots {
		keys[i] = r.Name + "=" + r.Path + "@" + r.Version + "+" + strings.Join(r.Externs, ",")
	}
	slices.Sort(keys)
	return fmt.Sprintf("%t|%s", strict, strings.Join(keys, "|"))
}

// build runs a pipeline over roots. Concurrent requests for the same crate
// set share one run; only the first caller receives progress.
func (s *Server) build(roots []walker.Root, strict bool, progress func(pipeline.Event)) rpc.BuildResult {
	if len(roots) == 0 {
		return rpc.BuildResult{Error: "no crates to build: pass crate paths or configure crates"}
	}
	v, _, _ := s.buildGroup.Do(rootsKey(roots, strict), func() (any, error) {
		return s.buildWork(roots, strict, progress), nil
	})
	return v.(rpc.BuildResult)
}

func (s *Server) buildWork(roots []walker.Root, strict bool, progress func(pipeline.Event)) rpc.BuildResult {
	p := pipeline.New(s.fs,
		pipeline.WithStrict(strict),
		pipeline.WithWorkers(s.cfg.Build.Workers),
		pipeline.WithCache(s.cache),
		pipeline.WithLinkScheme(s.cfg.Build.LinkScheme),
		pipeline.WithProgress(progress),
	)
	s.stateMu.Lock()
	s.active = p
	s.stateMu.Unlock()
	defer func() {
		s.stateMu.Lock()
		if s.active == p {
			s.active = nil
		}
		s.stateMu.Unlock()
	}()

	out, err := p.Run(context.Background(), roots)
	if err != nil {
		slog.Error("daemon: build failed", "error", err)
		return rpc.BuildResult{Error: err.Error()}
	}
	res, _ := p.Result()
	b := &build{out: out, stats: p.Stats()}

	if err := s.saveSnapshot(out, roots); err != nil {
		slog.Warn("daemon: saving snapshot", "error", err)
	}
	if s.db != nil {
		if err := s.db.SaveOutput(out, res, s.blobs); err != nil {
			slog.Warn("daemon: saving build to store", "error", err)
		}
	}

	s.stateMu.Lock()
	s.roots = slices.Clone(roots)
	s.current = b
	s.stateMu.Unlock()

	return rpc.BuildResult{
		Hash:        out.Hash,
		Crates:      crateStatuses(out),
		Stats:       b.stats,
		Diagnostics: out.Diagnostics,
	}
}

func crateStatuses(out *emit.Output) []rpc.CrateStatus {
	var status []rpc.CrateStatus
	for _, c := range out.Crates {
		n := 0
		for _, m := range c.Modules {
			n += len(m.Items)
		}
		status = append(status, rpc.CrateStatus{
			Name:      c.Name,
			Version:   c.Version,
			Items:     n,
			Partial:   c.Partial,
			Processed: true,
		})
	}
	return status
}

func (s *Server) handleGetDoc(w http.ResponseWriter, r *http.Request) {
	var req rpc.GetDocRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b := s.latest()
	if b == nil {
		writeError(w, http.StatusNotFound, "no crates have been built yet")
		return
	}
	if req.Version == "" {
		req.Version = "latest"
	}
	if req.Path == "" {
		req.Path = req.Crate
	}

	uri := fmt.Sprintf("%s%s/%s/%s", emit.URIScheme, req.Crate, req.Version, req.Path)
	_, item, err := b.out.Resolve(uri)
	if err != nil {
		// Re-exported paths name the canonical item.
		target := s.reexportTarget(b.out, req.Crate, req.Path)
		if target == "" {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		uri = b.out.URI(target)
		item, _ = b.out.Item(target)
	}

	page, err := b.out.Page(uri)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if item != nil && s.db != nil {
		page += s.referencedBy(b.out, item.ID)
	}
	writeJSON(w, http.StatusOK, rpc.GetDocResponse{URI: uri, Markdown: page})
}

// reexportTarget follows a crate's public re-exports for path.
func (s *Server) reexportTarget(out *emit.Output, crate, path string) index.ItemID {
	if s.db == nil {
		return ""
	}
	c, err := s.db.GetLatestCrate(crate)
	if err != nil || c == nil {
		return ""
	}
	s.db.TouchCrate(c.ID)
	target, src, found := s.db.ResolveReexport(c.ID, path)
	if !found {
		return ""
	}
	if target != "" {
		return target
	}
	src = strings.TrimPrefix(strings.TrimPrefix(src, "crate::"), "self::")
	var match index.ItemID
	for _, it := range out.Lookup(src, 0) {
		if it.Crate != crate {
			continue
		}
		if match != "" {
			return "" // ambiguous
		}
		match = it.ID
	}
	return match
}

func (s *Server) referencedBy(out *emit.Output, id index.ItemID) string {
	refs, err := s.db.Referrers(id)
	if err != nil {
		slog.Warn("daemon: referrers", "item", id, "error", err)
		return ""
	}
	var b strings.Builder
	seen := make(map[index.ItemID]bool)
	for _, r := range refs {
		if seen[r.From] {
			continue
		}
		seen[r.From] = true
		u := out.URI(r.From)
		if u == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("\n## Referenced By\n\n")
		}
		fmt.Fprintf(&b, "- [%s](%s)\n", r.Path, u)
	}
	return b.String()
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	var req rpc.LookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "missing query")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 20
	}

	resp := rpc.LookupResponse{Results: []rpc.ItemResult{}}
	if b := s.latest(); b != nil {
		for _, it := range b.out.Lookup(req.Query, req.Limit) {
			ver := ""
			if c, ok := b.out.Crate(it.Crate); ok {
				ver = c.Version
			}
			resp.Results = append(resp.Results, rpc.ItemResult{
				URI:          b.out.URI(it.ID),
				CrateName:    it.Crate,
				CrateVersion: ver,
				Path:         it.Path,
				Kind:         it.Kind.String(),
				Signature:    it.Signature,
				Summary:      it.Summary,
			})
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if s.db == nil {
		writeError(w, http.StatusNotFound, "no crates have been built yet")
		return
	}
	results, err := s.lookupStored(req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp.Results = append(resp.Results, results...)
	writeJSON(w, http.StatusOK, resp)
}

// lookupStored answers a lookup from the store when no build is loaded.
func (s *Server) lookupStored(req rpc.LookupRequest) ([]rpc.ItemResult, error) {
	items, err := s.db.SearchItems(req.Query, req.Limit)
	if err != nil {
		return nil, err
	}
	crates, err := s.db.ListCrates()
	if err != nil {
		return nil, err
	}
	byID := make(map[int]store.Crate, len(crates))
	for _, c := range crates {
		byID[c.ID] = c
	}
	var out []rpc.ItemResult
	for _, it := range items {
		c := byID[it.CrateID]
		ver := c.Version
		if ver == "" {
			ver = "latest"
		}
		out = append(out, rpc.ItemResult{
			URI:          fmt.Sprintf("%s%s/%s/%s", emit.URIScheme, c.Name, ver, it.Path),
			CrateName:    c.Name,
			CrateVersion: c.Version,
			Path:         it.Path,
			Kind:         it.Kind,
			Signature:    it.Signature,
			Summary:      it.Summary,
		})
	}
	return out, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var resp rpc.StatusResponse
	s.stateMu.RLock()
	active, b := s.active, s.current
	s.stateMu.RUnlock()
	switch {
	case active != nil:
		resp.State = active.State()
	case b != nil:
		resp.State = pipeline.Ready
	}
	if b != nil {
		resp.Hash = b.out.Hash
		resp.Stats = b.stats
	}

	if s.db != nil {
		crates, err := s.db.ListCrates()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		for _, c := range crates {
			n, _ := s.db.CountItems(c.ID)
			resp.Crates = append(resp.Crates, rpc.CrateStatus{
				Name:      c.Name,
				Version:   c.Version,
				Items:     n,
				Partial:   c.Partial,
				Processed: c.ProcessedAt != nil,
			})
		}
	} else if b != nil {
		resp.Crates = crateStatuses(b.out)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	slog.Info("daemon: caches cleared")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// clear drops the loaded build and every persisted cache. The crate set is
// kept so the next build request can rebuild it.
func (s *Server) clear() error {
	s.cache.Purge()
	s.stateMu.Lock()
	s.current = nil
	s.stateMu.Unlock()

	var errs []error
	if err := s.fs.RemoveAll(s.snapshots); err != nil {
		errs = append(errs, fmt.Errorf("removing snapshots: %w", err))
	}
	if s.blobs != nil {
		errs = append(errs, s.blobs.Clear())
	}
	if s.db != nil {
		errs = append(errs, s.db.Clear())
	}
	return errors.Join(errs...)
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
		os.Exit(0)
	}()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
