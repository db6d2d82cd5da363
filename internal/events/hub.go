// Package events is the in-process broadcast layer between the sync core
// and its observers. The Hub fans out sync-state transitions, conflict
// notices, advisories and per-query result updates to channel
// subscriptions; the Server bridges the same streams to out-of-process
// clients over WebSocket.
package events

import (
	"sort"
	"sync"
	"time"

	"github.com/ptmt/youtrek-sub001/internal/types"
)

// conflictBuffer bounds the per-subscriber conflict and advisory queues.
const conflictBuffer = 16

// QueryUpdate announces that the cached result set of one query
// fingerprint changed. IssueIDs is the full new ordering.
type QueryUpdate struct {
	Fingerprint string    `json:"fingerprint"`
	IssueIDs    []string  `json:"issue_ids"`
	At          time.Time `json:"at"`
}

// Advisory is a one-time operational warning surfaced to the user
// (degraded storage, a dropped mutation, an auth failure).
type Advisory struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Hub is the broadcast registry. State and query-update subscriptions are
// latest-wins: a slow consumer always receives the newest value and never
// works through a stale backlog. Conflict and advisory subscriptions are
// buffered; conflict notices additionally stay in the pending set until
// acknowledged, so nothing is lost to a full buffer.
type Hub struct {
	mu        sync.Mutex
	phase     types.SyncPhase
	stateSubs map[chan types.SyncPhase]struct{}

	conflictSubs map[chan *types.ConflictNotice]struct{}
	advisorySubs map[chan Advisory]struct{}
	querySubs    map[string]map[chan QueryUpdate]struct{}
	queryDefs    map[string]types.IssueQuery
	queryTaps    map[chan QueryUpdate]struct{}

	pending map[string]*types.ConflictNotice
}

// NewHub returns an empty hub in the idle state.
func NewHub() *Hub {
	return &Hub{
		phase:        types.PhaseIdle,
		stateSubs:    make(map[chan types.SyncPhase]struct{}),
		conflictSubs: make(map[chan *types.ConflictNotice]struct{}),
		advisorySubs: make(map[chan Advisory]struct{}),
		querySubs:    make(map[string]map[chan QueryUpdate]struct{}),
		queryDefs:    make(map[string]types.IssueQuery),
		queryTaps:    make(map[chan QueryUpdate]struct{}),
		pending:      make(map[string]*types.ConflictNotice),
	}
}

// State returns the last published sync phase.
func (h *Hub) State() types.SyncPhase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phase
}

// PublishState records and broadcasts a sync phase transition.
func (h *Hub) PublishState(phase types.SyncPhase) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.phase = phase
	for ch := range h.stateSubs {
		sendLatestPhase(ch, phase)
	}
}

// ObserveState subscribes to phase transitions. The channel immediately
// carries the current phase; call cancel to unsubscribe.
func (h *Hub) ObserveState() (<-chan types.SyncPhase, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan types.SyncPhase, 1)
	ch <- h.phase
	h.stateSubs[ch] = struct{}{}

	return ch, h.cancelFunc(func() { delete(h.stateSubs, ch) })
}

// PublishConflict adds the notice to the pending set and broadcasts it.
// Re-publishing an already pending id is a no-op, keeping "exactly one
// notice per conflict".
func (h *Hub) PublishConflict(n *types.ConflictNotice) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, dup := h.pending[n.ID]; dup {
		return
	}
	h.pending[n.ID] = n
	for ch := range h.conflictSubs {
		select {
		case ch <- n:
		default:
		}
	}
}

// Acknowledge discards the pending notice. Notices are ephemeral: this is
// the only way one disappears, and there is nothing to persist.
func (h *Hub) Acknowledge(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.pending[id]; !ok {
		return false
	}
	delete(h.pending, id)
	return true
}

// PendingConflicts returns the unacknowledged notices, oldest first.
func (h *Hub) PendingConflicts() []*types.ConflictNotice {
	h.mu.Lock()
	defer h.mu.Unlock()

	notices := make([]*types.ConflictNotice, 0, len(h.pending))
	for _, n := range h.pending {
		notices = append(notices, n)
	}
	sort.Slice(notices, func(i, j int) bool {
		if notices[i].CreatedAt.Equal(notices[j].CreatedAt) {
			return notices[i].ID < notices[j].ID
		}
		return notices[i].CreatedAt.Before(notices[j].CreatedAt)
	})
	return notices
}

// ObserveConflicts subscribes to new conflict notices.
func (h *Hub) ObserveConflicts() (<-chan *types.ConflictNotice, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan *types.ConflictNotice, conflictBuffer)
	h.conflictSubs[ch] = struct{}{}

	return ch, h.cancelFunc(func() { delete(h.conflictSubs, ch) })
}

// PublishAdvisory broadcasts a one-time warning.
func (h *Hub) PublishAdvisory(message string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	a := Advisory{Message: message, At: time.Now().UTC()}
	for ch := range h.advisorySubs {
		select {
		case ch <- a:
		default:
		}
	}
}

// ObserveAdvisories subscribes to operational warnings.
func (h *Hub) ObserveAdvisories() (<-chan Advisory, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Advisory, conflictBuffer)
	h.advisorySubs[ch] = struct{}{}

	return ch, h.cancelFunc(func() { delete(h.advisorySubs, ch) })
}

// PublishQueryUpdate broadcasts a result-set change to that fingerprint's
// observers and to the firehose taps.
func (h *Hub) PublishQueryUpdate(u QueryUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.querySubs[u.Fingerprint] {
		sendLatestUpdate(ch, u)
	}
	for ch := range h.queryTaps {
		select {
		case ch <- u:
		default:
		}
	}
}

// ObserveAllQueries subscribes to every result-set update regardless of
// fingerprint. Used by the WebSocket bridge to fan updates out of process.
func (h *Hub) ObserveAllQueries() (<-chan QueryUpdate, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan QueryUpdate, conflictBuffer)
	h.queryTaps[ch] = struct{}{}

	return ch, h.cancelFunc(func() { delete(h.queryTaps, ch) })
}

// ObserveQuery subscribes to result updates for one query. The
// subscription also marks the query active, so sync cycles keep
// refreshing its cached result set.
func (h *Hub) ObserveQuery(q types.IssueQuery) (<-chan QueryUpdate, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	q = q.Normalize()
	fingerprint := q.Fingerprint()

	ch := make(chan QueryUpdate, 1)
	subs, ok := h.querySubs[fingerprint]
	if !ok {
		subs = make(map[chan QueryUpdate]struct{})
		h.querySubs[fingerprint] = subs
		h.queryDefs[fingerprint] = q
	}
	subs[ch] = struct{}{}

	return ch, h.cancelFunc(func() {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(h.querySubs, fingerprint)
			delete(h.queryDefs, fingerprint)
		}
	})
}

// ActiveQueries returns the queries with at least one live observer,
// ordered by fingerprint for deterministic refresh order.
func (h *Hub) ActiveQueries() []types.IssueQuery {
	h.mu.Lock()
	defer h.mu.Unlock()

	keys := make([]string, 0, len(h.queryDefs))
	for fp := range h.queryDefs {
		keys = append(keys, fp)
	}
	sort.Strings(keys)

	queries := make([]types.IssueQuery, 0, len(keys))
	for _, fp := range keys {
		queries = append(queries, h.queryDefs[fp])
	}
	return queries
}

// cancelFunc wraps an unsubscribe mutation to run once under the hub lock.
func (h *Hub) cancelFunc(remove func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			remove()
		})
	}
}

// sendLatestPhase delivers to a buffer-1 channel, displacing an unread
// older value so the consumer always sees the newest phase.
func sendLatestPhase(ch chan types.SyncPhase, v types.SyncPhase) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

func sendLatestUpdate(ch chan QueryUpdate, v QueryUpdate) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
