// Package chatclient implements the visitor side of the chat widget: it
// renders sends optimistically, reconciles them against server-confirmed
// messages without ever duplicating a bubble, and keeps a capped local
// mirror so a restart restores history and resumes the conversation.
package chatclient

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/inkwell-cms/livechat/internal/model"
)

const (
	// matchWindow bounds how far apart an optimistic entry and its
	// confirmed counterpart may be timestamped and still be the same
	// message (network latency plus clock skew).
	matchWindow = 30 * time.Second

	// mirrorCap is the maximum number of entries kept locally; older
	// entries are evicted.
	mirrorCap = 300

	// seenTTL bounds how long confirmed dedup keys are remembered. Far
	// longer than any poll overlap; expiry only keeps the set from
	// growing without bound.
	seenTTL = 24 * time.Hour
)

// Outcome describes what Ingest did with a confirmed message.
type Outcome int

const (
	// OutcomeReplaced means the message matched a pending optimistic
	// entry, which was replaced in place.
	OutcomeReplaced Outcome = iota
	// OutcomeDuplicate means this exact message was already rendered and
	// was discarded.
	OutcomeDuplicate
	// OutcomeAppended means the message was new and appended.
	OutcomeAppended
)

// Entry is one rendered bubble of the local mirror.
type Entry struct {
	// Key is the dedup key: strong (server id) once confirmed, soft
	// (content + minute bucket) while optimistic.
	Key        string
	TempID     string
	Optimistic bool
	Message    model.Message
}

// pendingEntry tracks one optimistic send awaiting confirmation.
type pendingEntry struct {
	tempID   string
	sender   model.SenderRole
	normText string
	sentAt   time.Time
}

// Reconciler maintains the local append-only mirror and the two-tier dedup
// strategy: strong keys prevent re-processing a server message seen twice
// (push then poll), soft keys catch the optimistic-vs-confirmed collision
// despite differing ids and timestamps.
type Reconciler struct {
	mu      sync.Mutex
	entries []Entry
	pending map[string]pendingEntry
	seen    *gocache.Cache
}

// NewReconciler creates an empty reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{
		pending: make(map[string]pendingEntry),
		seen:    gocache.New(seenTTL, 2*seenTTL),
	}
}

// normalizeText collapses whitespace runs and trims, so that rendering
// round-trips don't defeat the soft match.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// strongKey is the identity of a server-confirmed message.
func strongKey(sender model.SenderRole, id string) string {
	return "srv|" + string(sender) + "|" + id
}

// softKey is the best-effort identity of a not-yet-confirmed entry; no
// durable id exists, so content and a minute bucket stand in.
func softKey(sender model.SenderRole, normText string, ts time.Time) string {
	return "tmp|" + string(sender) + "|" + normText + "|" + ts.UTC().Truncate(time.Minute).Format("200601021504")
}

// AddOptimistic renders a visitor send immediately under a temporary key
// and registers it for reconciliation.
func (r *Reconciler) AddOptimistic(sender model.SenderRole, text string) Entry {
	now := time.Now().UTC()
	norm := normalizeText(text)
	entry := Entry{
		Key:        softKey(sender, norm, now),
		TempID:     uuid.New().String(),
		Optimistic: true,
		Message: model.Message{
			ID:        "",
			Sender:    sender,
			Body:      text,
			CreatedAt: now,
		},
	}

	r.mu.Lock()
	r.pending[entry.TempID] = pendingEntry{
		tempID:   entry.TempID,
		sender:   sender,
		normText: norm,
		sentAt:   now,
	}
	r.entries = append(r.entries, entry)
	r.trimLocked()
	r.mu.Unlock()

	return entry
}

// Ingest processes one server-confirmed message, arriving via push, poll or
// a send acknowledgement. It is idempotent: the same confirmed message may
// be ingested any number of times and renders exactly once.
func (r *Reconciler) Ingest(msg model.Message) Outcome {
	key := strongKey(msg.Sender, msg.ID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.seen.Get(key); dup {
		return OutcomeDuplicate
	}

	if tempID, ok := r.matchPendingLocked(msg); ok {
		delete(r.pending, tempID)
		for i := range r.entries {
			if r.entries[i].TempID == tempID {
				r.entries[i] = Entry{Key: key, Message: msg}
				break
			}
		}
		r.seen.SetDefault(key, struct{}{})
		return OutcomeReplaced
	}

	r.entries = append(r.entries, Entry{Key: key, Message: msg})
	r.trimLocked()
	r.seen.SetDefault(key, struct{}{})
	return OutcomeAppended
}

// matchPendingLocked finds an optimistic entry with the same sender, the
// same normalized text and a timestamp within the match window.
func (r *Reconciler) matchPendingLocked(msg model.Message) (string, bool) {
	norm := normalizeText(msg.Body)

	var bestID string
	var bestDelta time.Duration
	for _, p := range r.pending {
		if p.sender != msg.Sender || p.normText != norm {
			continue
		}
		delta := msg.CreatedAt.Sub(p.sentAt)
		if delta < 0 {
			delta = -delta
		}
		if delta > matchWindow {
			continue
		}
		if bestID == "" || delta < bestDelta {
			bestID, bestDelta = p.tempID, delta
		}
	}
	return bestID, bestID != ""
}

// trimLocked evicts the oldest entries beyond the cap. Evicted pending
// entries stay in the pending map so a late confirmation is still absorbed
// rather than appended twice.
func (r *Reconciler) trimLocked() {
	if n := len(r.entries) - mirrorCap; n > 0 {
		r.entries = append(r.entries[:0:0], r.entries[n:]...)
	}
}

// Entries returns a snapshot of the mirror in render order.
func (r *Reconciler) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// PendingCount reports how many optimistic sends still await confirmation.
func (r *Reconciler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Restore seeds the mirror from a persisted record. Confirmed entries
// register their strong keys so the first poll after a restart does not
// duplicate them.
func (r *Reconciler) Restore(messages []model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = r.entries[:0]
	for _, msg := range messages {
		if msg.ID == "" {
			continue // unconfirmed leftovers are not restored
		}
		key := strongKey(msg.Sender, msg.ID)
		r.entries = append(r.entries, Entry{Key: key, Message: msg})
		r.seen.SetDefault(key, struct{}{})
	}
	r.trimLocked()
}

// Clear drops all local state, pending included.
func (r *Reconciler) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
	r.pending = make(map[string]pendingEntry)
	r.seen.Flush()
}
