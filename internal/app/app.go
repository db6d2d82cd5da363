// Package app wires the YouTrek core together: store, remote client,
// event hub, and sync coordinator behind one explicitly constructed
// container. Commands and the daemon talk to an App, never to the
// pieces directly.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ptmt/youtrek-sub001/internal/config"
	"github.com/ptmt/youtrek-sub001/internal/events"
	"github.com/ptmt/youtrek-sub001/internal/remote"
	"github.com/ptmt/youtrek-sub001/internal/storage"
	"github.com/ptmt/youtrek-sub001/internal/storage/null"
	"github.com/ptmt/youtrek-sub001/internal/storage/sqlite"
	"github.com/ptmt/youtrek-sub001/internal/sync"
	"github.com/ptmt/youtrek-sub001/internal/types"
)

// ErrNotLoggedIn indicates an operation that needs the remote tracker
// was attempted before `youtrek login`.
var ErrNotLoggedIn = errors.New("not logged in")

// Status is a point-in-time summary for `youtrek status` and the
// bridge's state endpoint.
type Status struct {
	Phase     types.SyncPhase `json:"phase"`
	LoggedIn  bool            `json:"logged_in"`
	Degraded  bool            `json:"degraded"`
	Conflicts int             `json:"conflicts"`
	Stats     *storage.Stats  `json:"stats"`
}

// App owns the long-lived core components. Construct with New, release
// with Close.
type App struct {
	config   *config.Config
	logger   *log.Logger
	store    storage.Store
	remote   remote.Service
	hub      *events.Hub
	coord    *sync.Coordinator
	degraded bool
}

// New builds the core from loaded configuration. svc may be nil when the
// user has not logged in yet: browsing and offline edits still work, and
// sync requests publish an advisory instead of running.
//
// If the local database cannot be opened the App comes up degraded on a
// null store rather than failing: reads return empty, writes are
// dropped, and an advisory is published.
func New(cfg *config.Config, svc remote.Service, logger *log.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[youtrek] ", log.LstdFlags)
	}

	hub := events.NewHub()

	var st storage.Store
	degraded := false
	st, err := openStore(cfg.DatabasePath)
	if err != nil {
		logger.Printf("WARNING: local cache unavailable, continuing without persistence: %v", err)
		hub.PublishAdvisory(fmt.Sprintf(
			"Local cache unavailable: %v. YouTrek is running without persistence; no issues will load and edits will not be saved.", err))
		st = null.New()
		degraded = true
	}

	a := &App{
		config:   cfg,
		logger:   logger,
		store:    st,
		remote:   svc,
		hub:      hub,
		degraded: degraded,
	}

	if svc != nil {
		coord, err := sync.New(st, svc, hub, &sync.Config{
			Interval: cfg.SyncInterval,
			Backoff:  sync.Policy{Base: cfg.BackoffBase, Cap: cfg.BackoffCap},
			Projects: cfg.Projects,
			Logger:   logger,
		})
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to build sync coordinator: %w", err)
		}
		a.coord = coord
	}

	return a, nil
}

func openStore(path string) (storage.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	return sqlite.Open(path)
}

// Close releases the store. The coordinator loop, if running, must be
// stopped first (cancel the context passed to Coordinator().Start).
func (a *App) Close() error {
	return a.store.Close()
}

// Hub exposes the event hub for the bridge server.
func (a *App) Hub() *events.Hub { return a.hub }

// Store exposes the persistence layer for the bridge server.
func (a *App) Store() storage.Store { return a.store }

// Coordinator returns the sync coordinator, or nil when not logged in.
func (a *App) Coordinator() *sync.Coordinator { return a.coord }

// LoggedIn reports whether a remote client is configured.
func (a *App) LoggedIn() bool { return a.remote != nil }

// Degraded reports whether the App fell back to the null store.
func (a *App) Degraded() bool { return a.degraded }

// Results returns the cached issues for a query: the fingerprint-indexed
// result set when one has been fetched, otherwise a direct filter over
// the local cache so offline browsing always shows something.
func (a *App) Results(ctx context.Context, q types.IssueQuery) ([]*types.Issue, error) {
	q = q.Normalize()
	issues, err := a.store.QueryIssues(ctx, q.Fingerprint())
	if err != nil {
		return nil, err
	}
	if len(issues) > 0 {
		return issues, nil
	}
	return a.store.ListIssues(ctx, q)
}

// ObserveIssues returns the current results for the query plus a live
// update stream. The query is registered with the hub, so subsequent
// sync cycles re-evaluate it remotely. The subscription is created
// before the snapshot is read; an update that races the snapshot is
// delivered again, never lost.
func (a *App) ObserveIssues(ctx context.Context, q types.IssueQuery) ([]*types.Issue, <-chan events.QueryUpdate, func(), error) {
	q = q.Normalize()
	updates, cancel := a.hub.ObserveQuery(q)

	snapshot, err := a.Results(ctx, q)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return snapshot, updates, cancel, nil
}

// SubmitEdit applies a patch optimistically to the cached issue and
// queues it for replay. The returned mutation carries the assigned id.
// Editing an uncached issue fails with storage.ErrIssueNotFound.
func (a *App) SubmitEdit(ctx context.Context, issueID string, patch types.IssuePatch) (*types.Mutation, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	m := &types.Mutation{
		ID:           uuid.NewString(),
		IssueID:      issueID,
		Kind:         types.MutationUpdate,
		Patch:        patch,
		LocalChanges: patch.Render(),
		CreatedAt:    time.Now().UTC(),
	}

	if err := a.store.SubmitEdit(ctx, m); err != nil {
		return nil, err
	}

	a.publishIssueQueries(ctx, issueID)

	// Opportunistic: a queued edit is a good reason to sync soon.
	if a.coord != nil {
		a.coord.TriggerSync(false)
	}

	return m, nil
}

// TriggerSync requests an asynchronous sync cycle. Returns false when
// the request was coalesced into an in-flight cycle or when not logged
// in (an advisory is published in that case).
func (a *App) TriggerSync(force bool) bool {
	if a.coord == nil {
		a.hub.PublishAdvisory("Sync skipped: not logged in. Run `youtrek login` to connect to your YouTrack instance.")
		return false
	}
	return a.coord.TriggerSync(force)
}

// SyncNow runs one full sync cycle and blocks until it finishes.
func (a *App) SyncNow(ctx context.Context, force bool) error {
	if a.coord == nil {
		a.hub.PublishAdvisory("Sync skipped: not logged in. Run `youtrek login` to connect to your YouTrack instance.")
		return ErrNotLoggedIn
	}
	return a.coord.SyncNow(ctx, force)
}

// SyncSince runs one blocking cycle that re-fetches everything updated
// after since, ignoring the stored watermarks.
func (a *App) SyncSince(ctx context.Context, since time.Time) error {
	if a.coord == nil {
		a.hub.PublishAdvisory("Sync skipped: not logged in. Run `youtrek login` to connect to your YouTrack instance.")
		return ErrNotLoggedIn
	}
	return a.coord.SyncSince(ctx, since)
}

// SyncState returns the current phase of the sync pipeline.
func (a *App) SyncState() types.SyncPhase {
	return a.hub.State()
}

// ObserveSyncState subscribes to phase changes (latest-wins).
func (a *App) ObserveSyncState() (<-chan types.SyncPhase, func()) {
	return a.hub.ObserveState()
}

// ObserveConflicts subscribes to new conflict notices.
func (a *App) ObserveConflicts() (<-chan *types.ConflictNotice, func()) {
	return a.hub.ObserveConflicts()
}

// Conflicts returns the unacknowledged conflict notices, oldest first.
func (a *App) Conflicts() []*types.ConflictNotice {
	return a.hub.PendingConflicts()
}

// AcknowledgeConflict removes a notice from the pending set without
// resolving the underlying mutation.
func (a *App) AcknowledgeConflict(id string) bool {
	return a.hub.Acknowledge(id)
}

// DiscardConflict resolves a conflict by accepting the remote copy and
// dropping the local edit.
func (a *App) DiscardConflict(ctx context.Context, mutationID string) error {
	if a.coord == nil {
		return ErrNotLoggedIn
	}
	return a.coord.DiscardConflict(ctx, mutationID)
}

// RetryConflict re-arms a conflicted edit against the current remote
// version and requests a sync cycle to replay it.
func (a *App) RetryConflict(ctx context.Context, mutationID string) error {
	if a.coord == nil {
		return ErrNotLoggedIn
	}
	return a.coord.RetryConflict(ctx, mutationID)
}

// MarkIssueSeen acknowledges the issue's current update time for unread
// tracking.
func (a *App) MarkIssueSeen(ctx context.Context, id string) error {
	return a.store.MarkIssueSeen(ctx, id, time.Now().UTC())
}

// Boards returns the cached agile boards.
func (a *App) Boards(ctx context.Context) ([]*types.Board, error) {
	return a.store.Boards(ctx)
}

// SavedQueries returns the cached saved searches.
func (a *App) SavedQueries(ctx context.Context) ([]*types.SavedQuery, error) {
	return a.store.SavedQueries(ctx)
}

// Status summarizes the core's health for status output and the bridge.
func (a *App) Status(ctx context.Context) (*Status, error) {
	stats, err := a.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		Phase:     a.hub.State(),
		LoggedIn:  a.remote != nil,
		Degraded:  a.degraded,
		Conflicts: len(a.hub.PendingConflicts()),
		Stats:     stats,
	}, nil
}

func (a *App) publishIssueQueries(ctx context.Context, issueID string) {
	fps, err := a.store.FingerprintsFor(ctx, issueID)
	if err != nil {
		a.logger.Printf("WARNING: failed to resolve query fingerprints for %s: %v", issueID, err)
		return
	}
	now := time.Now().UTC()
	for _, fp := range fps {
		ids, err := a.store.QueryMembership(ctx, fp)
		if err != nil {
			a.logger.Printf("WARNING: failed to load membership for %s: %v", fp, err)
			continue
		}
		a.hub.PublishQueryUpdate(events.QueryUpdate{Fingerprint: fp, IssueIDs: ids, At: now})
	}
}
