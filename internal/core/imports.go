package core

// imports.go holds review sessions for batches of incoming rows.
//
// A session is created by StartImport, which classifies every row against
// the catalog. The operator then decides possible matches, edits rows,
// assigns new IDs and finally commits. Sessions live in memory only and
// expire after SessionTTL without activity.

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/partregistry/internal/logging"
	"github.com/JonMunkholm/partregistry/internal/matching"
	"github.com/JonMunkholm/partregistry/internal/pipeline"
	"github.com/JonMunkholm/partregistry/internal/store"
)

// ErrImportNotFound is returned for unknown, expired or discarded sessions.
var ErrImportNotFound = fmt.Errorf("import session %w", ErrNotFound)

// ImportState is the lifecycle state of a session.
type ImportState string

const (
	ImportOpen      ImportState = "open"
	ImportCommitted ImportState = "committed"
)

// ImportRequest starts a session.
type ImportRequest struct {
	// Module names the product module the rows belong to. It selects the
	// default prefix and remembers the last prefix used.
	Module string `json:"module"`
	// Prefix overrides the module's prefix for new IDs.
	Prefix string `json:"prefix"`
	// Threshold overrides the configured similarity threshold when set.
	Threshold float64          `json:"threshold"`
	Rows      []pipeline.Input `json:"rows"`
}

// Import is a snapshot of a session.
type Import struct {
	ID        string         `json:"id"`
	Module    string         `json:"module,omitempty"`
	Prefix    string         `json:"prefix"`
	Threshold float64        `json:"threshold"`
	State     ImportState    `json:"state"`
	Rows      []pipeline.Row `json:"rows"`
	Summary   ImportSummary  `json:"summary"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// ImportSummary counts rows by status.
type ImportSummary struct {
	Total         int `json:"total"`
	New           int `json:"new"`
	Existing      int `json:"existing"`
	PossibleMatch int `json:"possible_match"`
	Created       int `json:"created"`
	Included      int `json:"included"`
}

// RowUpdate is a partial edit of one row. Nil fields are left alone.
type RowUpdate struct {
	Included   *bool    `json:"included"`
	IsStandard *bool    `json:"is_standard"`
	ItemType   *string  `json:"item_type"`
	Price      *float64 `json:"price"`
	Name       *string  `json:"name"`
}

// AssignResult reports an ID assignment on a session.
type AssignResult struct {
	Assigned int            `json:"assigned"`
	Skipped  int            `json:"skipped"`
	Reserved int            `json:"reserved"`
	Rows     []pipeline.Row `json:"rows"`
}

// CommitResult reports what a commit wrote.
type CommitResult struct {
	Created int `json:"created"`
	Aliases int `json:"aliases"`
}

type importSession struct {
	mu    sync.Mutex
	imp   Import
	timer *time.Timer
}

// StartImport classifies rows and opens a review session.
func (s *Service) StartImport(ctx context.Context, req ImportRequest) (Import, error) {
	req.Module = strings.TrimSpace(req.Module)
	if err := s.validateImport(req); err != nil {
		return Import{}, err
	}

	prefix, err := s.resolvePrefix(ctx, req.Module, req.Prefix)
	if err != nil {
		return Import{}, err
	}
	threshold := req.Threshold
	if threshold == 0 {
		threshold = s.opts.Threshold
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return Import{}, err
	}
	start := time.Now()
	rows, err := pipeline.Process(ctx, s, req.Rows, pipeline.Options{
		Prefix:         prefix,
		Threshold:      threshold,
		MaxSuggestions: s.opts.MaxSuggestions,
		CandidateLimit: s.opts.CandidateLimit,
	})
	s.limiter.Release()
	if err != nil {
		return Import{}, fmt.Errorf("classify rows: %w", err)
	}

	if req.Module != "" && prefix != "" {
		if err := s.store.SetLastPrefix(ctx, req.Module, prefix); err != nil {
			logging.FromContext(ctx).Warn("could not remember last prefix",
				"module", req.Module, "prefix", prefix, "error", err)
		}
	}

	now := time.Now().UTC()
	sess := &importSession{imp: Import{
		ID:        uuid.New().String(),
		Module:    req.Module,
		Prefix:    prefix,
		Threshold: threshold,
		State:     ImportOpen,
		Rows:      rows,
		CreatedAt: now,
	}}

	s.mu.Lock()
	s.imports[sess.imp.ID] = sess
	s.mu.Unlock()

	sess.mu.Lock()
	s.touch(sess)
	snap := sess.snapshot()
	sess.mu.Unlock()

	logging.FromContext(ctx).Info("import started",
		"import_id", snap.ID,
		"module", snap.Module,
		"prefix", snap.Prefix,
		"rows", snap.Summary.Total,
		"new", snap.Summary.New,
		"existing", snap.Summary.Existing,
		"possible_match", snap.Summary.PossibleMatch,
		"duration", time.Since(start),
	)
	return snap, nil
}

// GetImport returns the current state of a session.
func (s *Service) GetImport(ctx context.Context, id string) (Import, error) {
	var snap Import
	err := s.withSession(id, false, func(sess *importSession) error {
		snap = sess.snapshot()
		return nil
	})
	return snap, err
}

// DecideRow records a review decision on row n. See pipeline.Row.Decide.
func (s *Service) DecideRow(ctx context.Context, id string, n int, decision string) (pipeline.Row, error) {
	var row pipeline.Row
	err := s.withSession(id, true, func(sess *importSession) error {
		r, err := sess.row(n)
		if err != nil {
			return err
		}
		if err := r.Decide(decision); err != nil {
			return err
		}
		row = *r
		return nil
	})
	return row, err
}

// UpdateRow applies an operator edit to row n.
func (s *Service) UpdateRow(ctx context.Context, id string, n int, upd RowUpdate) (pipeline.Row, error) {
	if upd.ItemType != nil {
		if err := checkLen("item_type", strings.TrimSpace(*upd.ItemType), 0, maxItemTypeLen); err != nil {
			return pipeline.Row{}, err
		}
	}
	if upd.Name != nil {
		if err := checkLen("name", matching.Normalize(*upd.Name), 1, maxCandidateNameLen); err != nil {
			return pipeline.Row{}, err
		}
	}
	if upd.Price != nil && (*upd.Price < 0 || math.IsNaN(*upd.Price) || math.IsInf(*upd.Price, 0)) {
		return pipeline.Row{}, invalid("price", fmt.Sprint(*upd.Price), "must be a non-negative number")
	}

	var row pipeline.Row
	err := s.withSession(id, true, func(sess *importSession) error {
		r, err := sess.row(n)
		if err != nil {
			return err
		}
		// The ID was reserved for the row's key and prefix.
		if r.Status == matching.StatusCreated && (upd.Name != nil || upd.IsStandard != nil) {
			return fmt.Errorf("%w: row %d already has id %s, name and standard flag are fixed",
				ErrPrecondition, n, r.ExternalID)
		}
		if upd.Included != nil {
			r.Included = *upd.Included
		}
		if upd.IsStandard != nil {
			r.IsStandard = *upd.IsStandard
		}
		if upd.ItemType != nil {
			r.ItemType = strings.TrimSpace(*upd.ItemType)
		}
		if upd.Price != nil {
			price := *upd.Price
			r.Price = &price
		}
		if upd.Name != nil {
			r.Rename(*upd.Name)
		}
		row = *r
		return nil
	})
	return row, err
}

// ApplyImportPrefix sets the session prefix and renames every non-standard
// row to carry it. It returns the session and how many names changed.
func (s *Service) ApplyImportPrefix(ctx context.Context, id, prefix string) (Import, int, error) {
	p, err := pipeline.NormalizePrefix(prefix)
	if err != nil {
		return Import{}, 0, err
	}

	var (
		snap    Import
		changed int
		module  string
	)
	err = s.withSession(id, true, func(sess *importSession) error {
		n, err := pipeline.ApplyPrefix(sess.imp.Rows, p)
		if err != nil {
			return err
		}
		sess.imp.Prefix = p
		changed = n
		module = sess.imp.Module
		snap = sess.snapshot()
		return nil
	})
	if err != nil {
		return Import{}, 0, err
	}

	if module != "" {
		if err := s.store.SetLastPrefix(ctx, module, p); err != nil {
			logging.FromContext(ctx).Warn("could not remember last prefix",
				"module", module, "prefix", p, "error", err)
		}
	}
	return snap, changed, nil
}

// AssignImportIDs reserves new IDs for every included NEW row of the
// session. Rows with the same canonical key and prefix share one ID;
// standard rows are numbered under the standard prefix.
func (s *Service) AssignImportIDs(ctx context.Context, id string) (AssignResult, error) {
	var out AssignResult
	err := s.withSession(id, true, func(sess *importSession) error {
		if sess.imp.Prefix == "" {
			return fmt.Errorf("%w: import has no prefix, set one first", ErrPrecondition)
		}

		// Work on a copy so a failed reservation leaves the session untouched.
		rows := append([]pipeline.Row(nil), sess.imp.Rows...)
		res, err := pipeline.AssignIDs(ctx, s, rows, sess.imp.Prefix, s.opts.StandardPrefix)
		if err != nil {
			return err
		}
		sess.imp.Rows = rows
		out = AssignResult{
			Assigned: res.Assigned,
			Skipped:  res.Skipped,
			Reserved: res.Reserved,
			Rows:     sess.snapshot().Rows,
		}
		return nil
	})
	if err != nil {
		return AssignResult{}, err
	}

	logging.FromContext(ctx).Info("import ids assigned",
		"import_id", id,
		"assigned", out.Assigned,
		"reserved", out.Reserved,
	)
	return out, nil
}

// CommitImport writes the included rows to the catalog and records the
// names of confirmed matches as aliases of the part they were matched to.
// Rows sharing an ID are written once. On success the session is closed
// for edits.
func (s *Service) CommitImport(ctx context.Context, id string) (CommitResult, error) {
	var out CommitResult
	err := s.withSession(id, true, func(sess *importSession) error {
		if err := pipeline.ValidateCommit(sess.imp.Rows); err != nil {
			return err
		}

		parts, aliases := commitPlan(sess.imp)
		if len(parts) == 0 && len(aliases) == 0 {
			return fmt.Errorf("%w: nothing to commit", ErrPrecondition)
		}

		if len(parts) > 0 {
			if _, err := s.CreateParts(ctx, parts); err != nil {
				return err
			}
		}
		if err := s.store.PutAliases(ctx, aliases); err != nil {
			// Parts are already committed; a missing alias only costs a
			// review next time.
			logging.FromContext(ctx).Warn("could not record aliases",
				"import_id", id, "aliases", len(aliases), "error", err)
			aliases = nil
		}

		sess.imp.State = ImportCommitted
		out = CommitResult{Created: len(parts), Aliases: len(aliases)}
		return nil
	})
	if err != nil {
		return CommitResult{}, err
	}

	logging.FromContext(ctx).Info("import committed",
		"import_id", id,
		"created", out.Created,
		"aliases", out.Aliases,
	)
	return out, nil
}

// DiscardImport drops a session.
func (s *Service) DiscardImport(ctx context.Context, id string) error {
	s.mu.Lock()
	sess, ok := s.imports[id]
	delete(s.imports, id)
	s.mu.Unlock()
	if !ok {
		return ErrImportNotFound
	}

	sess.mu.Lock()
	if sess.timer != nil {
		sess.timer.Stop()
	}
	sess.mu.Unlock()
	return nil
}

// commitPlan builds the parts and aliases a commit writes.
func commitPlan(imp Import) ([]store.Part, map[string]string) {
	var parts []store.Part
	seen := make(map[string]struct{})
	aliases := make(map[string]string)

	for _, r := range imp.Rows {
		if r.Status == matching.StatusExisting && r.MatchDecision != "" && r.MatchDecision != pipeline.DecisionReject {
			for _, k := range []string{r.Name, matching.CanonicalKey(r.Name, "")} {
				if k == "" {
					continue
				}
				if _, ok := aliases[k]; !ok {
					aliases[k] = r.ExternalID
				}
			}
			continue
		}
		if !r.Included {
			continue
		}
		if _, dup := seen[r.ExternalID]; dup {
			continue
		}
		seen[r.ExternalID] = struct{}{}

		data := map[string]string{}
		if r.Description != "" {
			data["description"] = r.Description
		}
		if r.Price != nil {
			data["price"] = strconv.FormatFloat(*r.Price, 'f', -1, 64)
		}
		if imp.Module != "" {
			data["module"] = imp.Module
		}

		qty := int(math.Round(r.Qty))
		parts = append(parts, store.Part{
			ExternalID: r.ExternalID,
			PartName:   r.Name,
			ItemType:   r.ItemType,
			Revision:   r.Revision,
			Qty:        &qty,
			Status:     string(r.Status),
			Data:       data,
		})
	}
	return parts, aliases
}

// withSession runs fn with the session locked. Mutating calls are refused
// once the session is committed.
func (s *Service) withSession(id string, mutate bool, fn func(*importSession) error) error {
	s.mu.RLock()
	sess, ok := s.imports[id]
	s.mu.RUnlock()
	if !ok {
		return ErrImportNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	// The session may have expired or been discarded while we waited.
	s.mu.RLock()
	current := s.imports[id]
	s.mu.RUnlock()
	if current != sess {
		return ErrImportNotFound
	}

	if mutate && sess.imp.State != ImportOpen {
		return fmt.Errorf("%w: import is %s", ErrPrecondition, sess.imp.State)
	}
	if err := fn(sess); err != nil {
		return err
	}
	s.touch(sess)
	return nil
}

// touch pushes the session's expiry out by SessionTTL. sess.mu must be held.
func (s *Service) touch(sess *importSession) {
	ttl := s.opts.SessionTTL
	sess.imp.ExpiresAt = time.Now().UTC().Add(ttl)
	if sess.timer != nil {
		sess.timer.Reset(ttl)
		return
	}
	id := sess.imp.ID
	sess.timer = time.AfterFunc(ttl, func() {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		// Touched while this callback waited for the lock.
		if time.Now().Before(sess.imp.ExpiresAt) {
			return
		}
		s.mu.Lock()
		if s.imports[id] == sess {
			delete(s.imports, id)
		}
		s.mu.Unlock()
	})
}

// ActiveImports returns how many sessions are held.
func (s *Service) ActiveImports() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.imports)
}

func (sess *importSession) row(n int) (*pipeline.Row, error) {
	if n < 0 || n >= len(sess.imp.Rows) {
		return nil, invalid("row", strconv.Itoa(n), "must be between 0 and %d", len(sess.imp.Rows)-1)
	}
	return &sess.imp.Rows[n], nil
}

// snapshot copies the session so callers can read it without the lock.
func (sess *importSession) snapshot() Import {
	imp := sess.imp
	imp.Rows = append([]pipeline.Row(nil), sess.imp.Rows...)
	imp.Summary = summarize(imp.Rows)
	return imp
}

func summarize(rows []pipeline.Row) ImportSummary {
	sum := ImportSummary{Total: len(rows)}
	for _, r := range rows {
		switch r.Status {
		case matching.StatusNew:
			sum.New++
		case matching.StatusExisting:
			sum.Existing++
		case matching.StatusPossibleMatch:
			sum.PossibleMatch++
		case matching.StatusCreated:
			sum.Created++
		}
		if r.Included {
			sum.Included++
		}
	}
	return sum
}

func (s *Service) validateImport(req ImportRequest) error {
	if err := checkLen("module", req.Module, 0, maxModuleLen); err != nil {
		return err
	}
	if len(req.Rows) == 0 {
		return invalid("rows", "", "at least one row is required")
	}
	if len(req.Rows) > s.opts.MaxImportRows {
		return invalid("rows", strconv.Itoa(len(req.Rows)), "at most %d rows per import", s.opts.MaxImportRows)
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		return invalid("threshold", fmt.Sprint(req.Threshold), "must be between 0 and 1")
	}
	for i, in := range req.Rows {
		// Length is checked on the normalized name: NFKC can expand it, and
		// that is the form searched for and committed.
		if err := checkLen("name", matching.Normalize(in.Name), 0, maxCandidateNameLen); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		if err := checkQty(in.Qty); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		if err := checkLen("item_type", strings.TrimSpace(in.ItemType), 0, maxItemTypeLen); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		if err := checkLen("revision", strings.TrimSpace(in.Revision), 0, maxRevisionLen); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	return nil
}

// checkQty accepts quantities that round into a non-negative INTEGER column.
func checkQty(qty float64) error {
	if math.IsNaN(qty) || math.IsInf(qty, 0) || qty < 0 || math.Round(qty) > math.MaxInt32 {
		return invalid("qty", fmt.Sprint(qty), "must be between 0 and %d", math.MaxInt32)
	}
	return nil
}

// resolvePrefix picks the prefix new IDs are issued under: the explicit
// one, else the module's mapped prefix, else the module's last used one.
// It returns "" when none is known.
func (s *Service) resolvePrefix(ctx context.Context, module, explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return pipeline.NormalizePrefix(explicit)
	}
	if module == "" {
		return "", nil
	}
	if p, ok := s.opts.PrefixMap[matching.Normalize(module)]; ok {
		return p, nil
	}

	last, err := s.store.LastPrefix(ctx, module)
	if err != nil {
		logging.FromContext(ctx).Warn("could not load last prefix", "module", module, "error", err)
		return "", nil
	}
	if last == "" {
		return "", nil
	}
	p, err := pipeline.NormalizePrefix(last)
	if err != nil {
		return "", nil
	}
	return p, nil
}

// DiscardAllImports drops every open session and returns how many there were.
func (s *Service) DiscardAllImports(ctx context.Context) (int64, error) {
	s.mu.Lock()
	sessions := s.imports
	s.imports = make(map[string]*importSession)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.mu.Lock()
		if sess.timer != nil {
			sess.timer.Stop()
		}
		sess.mu.Unlock()
	}
	return int64(len(sessions)), nil
}
