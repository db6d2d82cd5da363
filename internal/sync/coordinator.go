// Package sync drives the offline cache: it owns the
// idle/bootstrapping/deltaSyncing/replayingOutbox state machine, decides
// when to fetch, and replays queued local edits against the server.
//
// A cycle runs:
//  1. Bootstrap (empty cache or forced) or delta sync (watermark fetch)
//  2. Board / saved-query refresh and active-query refresh
//  3. Outbox replay, oldest mutation per issue first
//
// Exactly one cycle runs at a time; triggers that arrive while a cycle is
// active coalesce into no-ops. Phase transitions are broadcast through the
// events hub.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/ptmt/youtrek-sub001/internal/events"
	"github.com/ptmt/youtrek-sub001/internal/remote"
	"github.com/ptmt/youtrek-sub001/internal/storage"
	"github.com/ptmt/youtrek-sub001/internal/types"
)

// ErrCycleActive is returned by SyncNow when another cycle is already
// running.
var ErrCycleActive = errors.New("a sync cycle is already running")

const conflictHoldMessage = "issue changed remotely after this edit"

// Config holds configuration for the sync coordinator.
type Config struct {
	// Interval is the cadence of periodic sync cycles.
	Interval time.Duration

	// Backoff paces mutation replays and failed-cycle retries.
	Backoff Policy

	// Projects are the partitions synced independently. Empty means one
	// partition spanning every project the token can see.
	Projects []string

	// Logger for sync activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval: 2 * time.Minute,
		Backoff:  DefaultPolicy(),
		Logger:   log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

type syncRequest struct {
	force bool
}

// Coordinator sequences fetches and outbox replay over one Store and one
// remote Service.
type Coordinator struct {
	store  storage.Store
	remote remote.Service
	hub    *events.Hub
	config *Config

	mu     sync.Mutex
	active bool
	held   map[string]*types.Issue // mutation id -> remote copy at conflict time

	requests chan syncRequest
}

// New creates a coordinator. Store, remote service and hub are required.
func New(store storage.Store, svc remote.Service, hub *events.Hub, config *Config) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if svc == nil {
		return nil, fmt.Errorf("remote service cannot be nil")
	}
	if hub == nil {
		return nil, fmt.Errorf("hub cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.Backoff == (Policy{}) {
		config.Backoff = DefaultPolicy()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	return &Coordinator{
		store:    store,
		remote:   svc,
		hub:      hub,
		config:   config,
		held:     make(map[string]*types.Issue),
		requests: make(chan syncRequest, 1),
	}, nil
}

// Phase returns the current sync phase.
func (c *Coordinator) Phase() types.SyncPhase {
	return c.hub.State()
}

// Reconfigure updates the settings a running loop absorbs without a
// restart. A non-positive interval or an invalid backoff keeps the
// current value; projects always replaces the partition list (nil means
// every project). Interval changes take effect when the loop next arms
// its timer.
func (c *Coordinator) Reconfigure(interval time.Duration, projects []string, backoff Policy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if interval > 0 {
		c.config.Interval = interval
	}
	c.config.Projects = append([]string(nil), projects...)
	if backoff.Base > 0 && backoff.Cap >= backoff.Base {
		c.config.Backoff = backoff
	}
}

func (c *Coordinator) interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config.Interval
}

func (c *Coordinator) backoffPolicy() Policy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config.Backoff
}

// TriggerSync asks the running loop for a cycle. It reports whether a new
// cycle was scheduled: triggers while a cycle is active, or while one is
// already queued, coalesce and return false.
func (c *Coordinator) TriggerSync(force bool) bool {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	select {
	case c.requests <- syncRequest{force: force}:
		return true
	default:
		return false
	}
}

// SyncNow runs one cycle synchronously. Returns ErrCycleActive when
// another cycle is already running.
func (c *Coordinator) SyncNow(ctx context.Context, force bool) error {
	return c.runCycle(ctx, force, time.Time{})
}

// SyncSince runs one cycle synchronously with an explicit delta floor,
// re-fetching everything updated after since instead of reading the
// per-partition watermark. Used for backfills after long offline
// stretches. An empty cache still bootstraps in full.
func (c *Coordinator) SyncSince(ctx context.Context, since time.Time) error {
	return c.runCycle(ctx, false, since)
}

// Start runs the periodic sync loop until ctx is cancelled. The first
// cycle starts immediately; afterwards cycles run every Interval, sooner
// when TriggerSync asks, and with exponential backoff after failures.
func (c *Coordinator) Start(ctx context.Context) error {
	c.config.Logger.Printf("Sync loop started (interval %s)", c.interval())

	failures := 0
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			err = c.runCycle(ctx, false, time.Time{})
		case req := <-c.requests:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			err = c.runCycle(ctx, req.force, time.Time{})
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := c.interval()
		switch {
		case err == nil:
			failures = 0
		case errors.Is(err, ErrCycleActive):
			// A concurrent SyncNow ran instead; keep the normal cadence.
		default:
			failures++
			delay = c.backoffPolicy().Delay(failures)
			c.config.Logger.Printf("WARNING: Sync cycle failed (streak %d): %v; next attempt in %s", failures, err, delay)
		}
		timer.Reset(delay)
	}
}

// runCycle executes one full pass of the state machine. The cycle is
// bootstrap-or-delta, then replay; a step failure is reported but never
// stops replay from running. A non-zero floor overrides the watermark
// for the delta branch.
func (c *Coordinator) runCycle(ctx context.Context, force bool, floor time.Time) error {
	if !c.begin() {
		return ErrCycleActive
	}
	defer c.end()

	started := time.Now()

	has, err := c.store.HasIssues(ctx)
	if err != nil {
		return fmt.Errorf("checking cache occupancy: %w", err)
	}

	var fetchErr error
	if force || !has {
		c.hub.PublishState(types.PhaseBootstrapping)
		fetchErr = c.bootstrap(ctx)
	} else {
		c.hub.PublishState(types.PhaseDeltaSyncing)
		fetchErr = c.delta(ctx, floor)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.hub.PublishState(types.PhaseReplayingOutbox)
	replayErr := c.replay(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}

	if fetchErr != nil {
		return fetchErr
	}
	if replayErr != nil {
		return replayErr
	}
	c.config.Logger.Printf("Sync cycle complete in %s", time.Since(started).Round(time.Millisecond))
	return nil
}

func (c *Coordinator) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return false
	}
	c.active = true
	return true
}

func (c *Coordinator) end() {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
	c.hub.PublishState(types.PhaseIdle)
}

// bootstrap fetches every partition in full and records the canonical
// result set per partition, making the fetch authoritative for eviction.
func (c *Coordinator) bootstrap(ctx context.Context) error {
	var firstErr error
	for _, project := range c.partitions() {
		if err := c.bootstrapPartition(ctx, project); err != nil {
			if ctx.Err() != nil {
				return err
			}
			c.config.Logger.Printf("WARNING: Bootstrap failed for %s: %v", partitionName(project), err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if err := c.refreshMetadata(ctx); err != nil {
		if ctx.Err() != nil {
			return err
		}
		c.config.Logger.Printf("WARNING: Metadata refresh failed: %v", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	c.refreshActiveQueries(ctx)
	return firstErr
}

func (c *Coordinator) bootstrapPartition(ctx context.Context, project string) error {
	fetchedAt := time.Now().UTC()
	issues, err := c.remote.FetchAllIssues(ctx, project)
	if err != nil {
		return fmt.Errorf("fetching issues: %w", err)
	}
	if err := validateBatch(issues); err != nil {
		return fmt.Errorf("discarding malformed fetch: %w", err)
	}
	if err := c.store.UpsertIssues(ctx, issues); err != nil {
		return fmt.Errorf("caching issues: %w", err)
	}

	q := partitionQuery(project)
	ids := issueIDs(issues)
	if err := c.store.RecordQueryFetch(ctx, q.Fingerprint(), ids, fetchedAt); err != nil {
		return fmt.Errorf("recording result set: %w", err)
	}
	c.hub.PublishQueryUpdate(events.QueryUpdate{Fingerprint: q.Fingerprint(), IssueIDs: ids, At: fetchedAt})
	c.config.Logger.Printf("Bootstrap complete for %s: %d issues", partitionName(project), len(issues))
	return nil
}

// delta fetches per-partition changes past the durable watermark, or
// past floor when one is given. Partial fetches never touch the query
// index: eviction is reserved for full result sets, which the
// active-query refresh provides.
func (c *Coordinator) delta(ctx context.Context, floor time.Time) error {
	var firstErr error
	for _, project := range c.partitions() {
		if err := c.deltaPartition(ctx, project, floor); err != nil {
			if ctx.Err() != nil {
				return err
			}
			c.config.Logger.Printf("WARNING: Delta sync failed for %s: %v", partitionName(project), err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if err := c.refreshMetadata(ctx); err != nil {
		if ctx.Err() != nil {
			return err
		}
		c.config.Logger.Printf("WARNING: Metadata refresh failed: %v", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	c.refreshActiveQueries(ctx)
	return firstErr
}

func (c *Coordinator) deltaPartition(ctx context.Context, project string, floor time.Time) error {
	since := floor
	if since.IsZero() {
		var err error
		since, err = c.store.MaxUpdatedAt(ctx, project)
		if err != nil {
			return fmt.Errorf("reading watermark: %w", err)
		}
	}
	issues, err := c.remote.FetchIssues(ctx, project, since)
	if err != nil {
		return fmt.Errorf("fetching changes: %w", err)
	}
	if len(issues) == 0 {
		return nil
	}
	if err := validateBatch(issues); err != nil {
		return fmt.Errorf("discarding malformed fetch: %w", err)
	}
	if err := c.store.UpsertIssues(ctx, issues); err != nil {
		return fmt.Errorf("caching issues: %w", err)
	}
	c.config.Logger.Printf("Delta sync for %s: %d changed issues", partitionName(project), len(issues))
	return nil
}

// refreshMetadata replaces the cached boards and saved queries wholesale.
// A malformed payload fails the replace transaction and the prior set
// stays.
func (c *Coordinator) refreshMetadata(ctx context.Context) error {
	boards, err := c.remote.FetchBoards(ctx)
	if err != nil {
		return fmt.Errorf("fetching boards: %w", err)
	}
	if err := c.store.ReplaceBoards(ctx, boards); err != nil {
		return fmt.Errorf("caching boards: %w", err)
	}

	queries, err := c.remote.FetchSavedQueries(ctx)
	if err != nil {
		return fmt.Errorf("fetching saved queries: %w", err)
	}
	if err := c.store.ReplaceSavedQueries(ctx, queries); err != nil {
		return fmt.Errorf("caching saved queries: %w", err)
	}
	return nil
}

// refreshActiveQueries re-runs every observed query as a full search and
// makes each result authoritative for its fingerprint. Per-query failures
// leave that result set stale and are logged, nothing more.
func (c *Coordinator) refreshActiveQueries(ctx context.Context) {
	for _, q := range c.hub.ActiveQueries() {
		if ctx.Err() != nil {
			return
		}
		fetchedAt := time.Now().UTC()
		issues, err := c.remote.SearchIssues(ctx, q)
		if err != nil {
			c.config.Logger.Printf("WARNING: Refresh failed for query %q: %v", q.String(), err)
			continue
		}
		if err := validateBatch(issues); err != nil {
			c.config.Logger.Printf("WARNING: Discarding malformed result for query %q: %v", q.String(), err)
			continue
		}
		if err := c.store.UpsertIssues(ctx, issues); err != nil {
			c.config.Logger.Printf("WARNING: Caching result for query %q failed: %v", q.String(), err)
			continue
		}
		ids := issueIDs(issues)
		fp := q.Fingerprint()
		if err := c.store.RecordQueryFetch(ctx, fp, ids, fetchedAt); err != nil {
			c.config.Logger.Printf("WARNING: Recording result for query %q failed: %v", q.String(), err)
			continue
		}
		c.hub.PublishQueryUpdate(events.QueryUpdate{Fingerprint: fp, IssueIDs: ids, At: fetchedAt})
	}
}

// replay pushes eligible outbox heads to the server. Heads keep per-issue
// creation order; the backoff policy defers heads that failed recently.
func (c *Coordinator) replay(ctx context.Context) error {
	heads, err := c.store.MutationHeads(ctx)
	if err != nil {
		return fmt.Errorf("reading outbox: %w", err)
	}
	if len(heads) == 0 {
		return nil
	}

	var firstErr error
	policy := c.backoffPolicy()
	applied, deferred := 0, 0
	for _, m := range heads {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !policy.Due(m, time.Now()) {
			deferred++
			continue
		}
		if err := c.replayMutation(ctx, m); err != nil {
			if ctx.Err() != nil {
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		applied++
	}
	c.config.Logger.Printf("Outbox replay: %d heads, %d applied, %d deferred", len(heads), applied, deferred)
	return firstErr
}

// replayMutation applies one head. The cached row's UpdatedAt is the base
// version the edit was made against and serves as the precondition.
func (c *Coordinator) replayMutation(ctx context.Context, m *types.Mutation) error {
	local, err := c.store.Issue(ctx, m.IssueID)
	if err != nil {
		if errors.Is(err, storage.ErrIssueNotFound) {
			c.config.Logger.Printf("WARNING: Dropping mutation %s: issue %s no longer cached", m.ID, m.IssueID)
			return c.store.RemoveMutation(ctx, m.ID)
		}
		return fmt.Errorf("loading issue %s: %w", m.IssueID, err)
	}

	updated, err := c.remote.ApplyPatch(ctx, m.IssueID, m.Patch, local.UpdatedAt)
	switch {
	case err == nil:
		return c.recordSuccess(ctx, m, updated)
	case remote.IsConflict(err):
		conflict, _ := remote.AsConflict(err)
		return c.recordConflict(ctx, m, local, conflict.Remote)
	case remote.IsRetryable(err):
		c.config.Logger.Printf("WARNING: Replay of %s failed, will retry: %v", m.ID, err)
		if recErr := c.store.RecordAttemptFailure(ctx, m.ID, time.Now().UTC(), err.Error()); recErr != nil {
			return recErr
		}
		return err
	default:
		c.config.Logger.Printf("WARNING: Dropping mutation %s, server rejected it: %v", m.ID, err)
		if remErr := c.store.RemoveMutation(ctx, m.ID); remErr != nil {
			return remErr
		}
		c.hub.PublishAdvisory(fmt.Sprintf("Your edit to %s was rejected by the server and has been dropped: %v", displayID(local), err))
		c.publishIssueQueries(ctx, m.IssueID)
		return nil
	}
}

// recordSuccess clears the replayed mutation and folds the server's copy
// back in. When further edits are queued for the issue the optimistic row
// stays and only the base version advances.
func (c *Coordinator) recordSuccess(ctx context.Context, m *types.Mutation, updated *types.Issue) error {
	if err := c.store.RemoveMutation(ctx, m.ID); err != nil {
		return fmt.Errorf("clearing mutation %s: %w", m.ID, err)
	}
	fresh, err := c.store.Issue(ctx, m.IssueID)
	if err != nil {
		return fmt.Errorf("reloading issue %s: %w", m.IssueID, err)
	}
	if fresh.IsDirty {
		if err := c.store.AcceptRemoteVersion(ctx, m.IssueID, updated.UpdatedAt); err != nil {
			return fmt.Errorf("advancing base version of %s: %w", m.IssueID, err)
		}
	} else {
		if err := c.store.UpsertIssues(ctx, []*types.Issue{updated}); err != nil {
			return fmt.Errorf("writing back %s: %w", m.IssueID, err)
		}
	}
	c.publishIssueQueries(ctx, m.IssueID)
	return nil
}

// recordConflict holds the mutation, keeps the remote copy for the
// resolution verbs, and surfaces exactly one notice.
func (c *Coordinator) recordConflict(ctx context.Context, m *types.Mutation, local, remoteCopy *types.Issue) error {
	if err := c.store.MarkConflicted(ctx, m.ID, conflictHoldMessage); err != nil {
		return fmt.Errorf("holding mutation %s: %w", m.ID, err)
	}
	if remoteCopy != nil {
		c.mu.Lock()
		c.held[m.ID] = remoteCopy
		c.mu.Unlock()
	}
	c.hub.PublishConflict(newConflictNotice(m, local))
	c.config.Logger.Printf("Conflict: %s changed remotely, mutation %s held for review", displayID(local), m.ID)
	return nil
}

// DiscardConflict resolves a held conflict by dropping the local edit and
// accepting the remote copy captured at conflict time.
func (c *Coordinator) DiscardConflict(ctx context.Context, mutationID string) error {
	m, err := c.pendingMutation(ctx, mutationID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	remoteCopy := c.held[mutationID]
	c.mu.Unlock()

	if err := c.store.DiscardMutation(ctx, mutationID, remoteCopy); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.held, mutationID)
	c.mu.Unlock()
	c.hub.Acknowledge(mutationID)
	c.publishIssueQueries(ctx, m.IssueID)
	c.config.Logger.Printf("Conflict resolved: mutation %s discarded, remote version kept", mutationID)
	return nil
}

// RetryConflict re-arms a held mutation against the remote version seen at
// conflict time; the next replay carries that version as its precondition.
func (c *Coordinator) RetryConflict(ctx context.Context, mutationID string) error {
	c.mu.Lock()
	remoteCopy := c.held[mutationID]
	c.mu.Unlock()

	var version time.Time
	if remoteCopy != nil {
		version = remoteCopy.UpdatedAt
	}
	if err := c.store.RetryMutation(ctx, mutationID, version); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.held, mutationID)
	c.mu.Unlock()
	c.hub.Acknowledge(mutationID)
	c.config.Logger.Printf("Conflict resolved: mutation %s re-armed for replay", mutationID)
	c.TriggerSync(false)
	return nil
}

func (c *Coordinator) pendingMutation(ctx context.Context, id string) (*types.Mutation, error) {
	pending, err := c.store.PendingMutations(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range pending {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, storage.ErrMutationNotFound
}

// publishIssueQueries re-broadcasts every cached result set that includes
// the issue, so observers re-read after its row changed.
func (c *Coordinator) publishIssueQueries(ctx context.Context, issueID string) {
	fingerprints, err := c.store.FingerprintsFor(ctx, issueID)
	if err != nil {
		c.config.Logger.Printf("WARNING: Listing result sets for %s failed: %v", issueID, err)
		return
	}
	now := time.Now().UTC()
	for _, fp := range fingerprints {
		ids, err := c.store.QueryMembership(ctx, fp)
		if err != nil {
			continue
		}
		c.hub.PublishQueryUpdate(events.QueryUpdate{Fingerprint: fp, IssueIDs: ids, At: now})
	}
}

func (c *Coordinator) partitions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.config.Projects) == 0 {
		return []string{""}
	}
	return append([]string(nil), c.config.Projects...)
}

func partitionQuery(project string) types.IssueQuery {
	if project == "" {
		return types.AllIssues()
	}
	return types.ProjectIssues(project)
}

func partitionName(project string) string {
	if project == "" {
		return "all projects"
	}
	return project
}

func displayID(issue *types.Issue) string {
	if issue.ReadableID != "" {
		return issue.ReadableID
	}
	return issue.ID
}

func validateBatch(issues []*types.Issue) error {
	for _, issue := range issues {
		if err := issue.Validate(); err != nil {
			return fmt.Errorf("issue %s: %w", issue.ID, err)
		}
	}
	return nil
}

func issueIDs(issues []*types.Issue) []string {
	ids := make([]string, len(issues))
	for i, issue := range issues {
		ids[i] = issue.ID
	}
	return ids
}
