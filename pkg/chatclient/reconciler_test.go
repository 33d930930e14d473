package chatclient

import (
	"fmt"
	"testing"
	"time"

	"github.com/inkwell-cms/livechat/internal/model"
)

func confirmed(id string, sender model.SenderRole, body string, at time.Time) model.Message {
	return model.Message{
		ID:        id,
		Sender:    sender,
		Body:      body,
		CreatedAt: at,
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	r := NewReconciler()
	msg := confirmed("m-1", model.SenderAdmin, "hello", time.Now().UTC())

	if got := r.Ingest(msg); got != OutcomeAppended {
		t.Fatalf("first ingest = %v", got)
	}
	// Push then poll delivers the same message again.
	if got := r.Ingest(msg); got != OutcomeDuplicate {
		t.Fatalf("second ingest = %v", got)
	}
	if got := r.Ingest(msg); got != OutcomeDuplicate {
		t.Fatalf("third ingest = %v", got)
	}

	if n := len(r.Entries()); n != 1 {
		t.Fatalf("mirror holds %d entries", n)
	}
}

func TestOptimisticSendReconcilesToOneBubble(t *testing.T) {
	r := NewReconciler()

	r.AddOptimistic(model.SenderVisitor, "ship it")
	if r.PendingCount() != 1 {
		t.Fatal("send not pending")
	}

	// Confirmation arrives with a server id and a slightly later timestamp.
	msg := confirmed("m-1", model.SenderVisitor, "ship it", time.Now().UTC().Add(2*time.Second))
	if got := r.Ingest(msg); got != OutcomeReplaced {
		t.Fatalf("ingest = %v", got)
	}

	entries := r.Entries()
	if len(entries) != 1 {
		t.Fatalf("mirror holds %d entries, want 1", len(entries))
	}
	if entries[0].Optimistic {
		t.Fatal("entry still optimistic after confirmation")
	}
	if entries[0].Message.ID != "m-1" {
		t.Fatalf("entry id = %q", entries[0].Message.ID)
	}
	if r.PendingCount() != 0 {
		t.Fatal("pending entry not cleared")
	}

	// The poll path re-delivers the confirmed message; it must not add a bubble.
	if got := r.Ingest(msg); got != OutcomeDuplicate {
		t.Fatalf("re-ingest = %v", got)
	}
	if len(r.Entries()) != 1 {
		t.Fatal("duplicate bubble after poll")
	}
}

func TestWhitespaceDifferencesStillMatch(t *testing.T) {
	r := NewReconciler()
	r.AddOptimistic(model.SenderVisitor, "  hello   world ")

	msg := confirmed("m-1", model.SenderVisitor, "hello world", time.Now().UTC())
	if got := r.Ingest(msg); got != OutcomeReplaced {
		t.Fatalf("ingest = %v", got)
	}
}

func TestConfirmationOutsideWindowAppends(t *testing.T) {
	r := NewReconciler()
	r.AddOptimistic(model.SenderVisitor, "late one")

	msg := confirmed("m-1", model.SenderVisitor, "late one", time.Now().UTC().Add(matchWindow+time.Minute))
	if got := r.Ingest(msg); got != OutcomeAppended {
		t.Fatalf("ingest = %v", got)
	}
	// The optimistic bubble stays; its pending record also stays.
	if len(r.Entries()) != 2 {
		t.Fatalf("mirror holds %d entries", len(r.Entries()))
	}
}

func TestDifferentSenderNeverMatchesPending(t *testing.T) {
	r := NewReconciler()
	r.AddOptimistic(model.SenderVisitor, "hello")

	// An admin happens to send the identical text at the same moment.
	msg := confirmed("m-1", model.SenderAdmin, "hello", time.Now().UTC())
	if got := r.Ingest(msg); got != OutcomeAppended {
		t.Fatalf("ingest = %v", got)
	}
	if len(r.Entries()) != 2 {
		t.Fatalf("mirror holds %d entries", len(r.Entries()))
	}
}

func TestClosestPendingWins(t *testing.T) {
	r := NewReconciler()

	// Two identical optimistic sends; the confirmation should consume
	// exactly one of them per ingest.
	r.AddOptimistic(model.SenderVisitor, "ping")
	r.AddOptimistic(model.SenderVisitor, "ping")

	now := time.Now().UTC()
	if got := r.Ingest(confirmed("m-1", model.SenderVisitor, "ping", now)); got != OutcomeReplaced {
		t.Fatalf("first confirmation = %v", got)
	}
	if r.PendingCount() != 1 {
		t.Fatalf("pending = %d after first confirmation", r.PendingCount())
	}
	if got := r.Ingest(confirmed("m-2", model.SenderVisitor, "ping", now)); got != OutcomeReplaced {
		t.Fatalf("second confirmation = %v", got)
	}
	if r.PendingCount() != 0 {
		t.Fatal("pending entries remain")
	}
	if len(r.Entries()) != 2 {
		t.Fatalf("mirror holds %d entries", len(r.Entries()))
	}
}

func TestMirrorCapEvictsOldest(t *testing.T) {
	r := NewReconciler()
	now := time.Now().UTC()

	for i := 0; i < mirrorCap+20; i++ {
		r.Ingest(confirmed(fmt.Sprintf("m-%d", i), model.SenderAdmin, fmt.Sprintf("msg %d", i), now))
	}

	entries := r.Entries()
	if len(entries) != mirrorCap {
		t.Fatalf("mirror holds %d entries, cap is %d", len(entries), mirrorCap)
	}
	if entries[0].Message.ID != "m-20" {
		t.Fatalf("oldest surviving entry = %q", entries[0].Message.ID)
	}
	if entries[len(entries)-1].Message.ID != fmt.Sprintf("m-%d", mirrorCap+19) {
		t.Fatalf("newest entry = %q", entries[len(entries)-1].Message.ID)
	}
}

func TestEvictedPendingStillAbsorbsLateConfirmation(t *testing.T) {
	r := NewReconciler()
	r.AddOptimistic(model.SenderVisitor, "about to be evicted")

	now := time.Now().UTC()
	for i := 0; i < mirrorCap; i++ {
		r.Ingest(confirmed(fmt.Sprintf("m-%d", i), model.SenderAdmin, "filler", now))
	}

	// The optimistic bubble is gone from the mirror, but the confirmation
	// must still be recognized rather than rendered as a new message twice.
	if got := r.Ingest(confirmed("late", model.SenderVisitor, "about to be evicted", now)); got != OutcomeReplaced {
		t.Fatalf("late confirmation = %v", got)
	}
	if r.PendingCount() != 0 {
		t.Fatal("pending entry not consumed")
	}
}

func TestRestoreSkipsUnconfirmedAndDedupsNextPoll(t *testing.T) {
	r := NewReconciler()
	now := time.Now().UTC()

	r.Restore([]model.Message{
		confirmed("m-1", model.SenderVisitor, "hi", now.Add(-time.Hour)),
		confirmed("m-2", model.SenderAdmin, "hello", now.Add(-time.Hour)),
		{Sender: model.SenderVisitor, Body: "never confirmed", CreatedAt: now.Add(-time.Hour)},
	})

	if n := len(r.Entries()); n != 2 {
		t.Fatalf("restored %d entries, want 2", n)
	}

	// The first poll after restart re-delivers restored history.
	if got := r.Ingest(confirmed("m-1", model.SenderVisitor, "hi", now.Add(-time.Hour))); got != OutcomeDuplicate {
		t.Fatalf("re-ingest of restored message = %v", got)
	}
	if len(r.Entries()) != 2 {
		t.Fatal("restored message duplicated")
	}
}

func TestClearDropsEverything(t *testing.T) {
	r := NewReconciler()
	r.AddOptimistic(model.SenderVisitor, "bye")
	r.Ingest(confirmed("m-1", model.SenderAdmin, "bye now", time.Now().UTC()))

	r.Clear()

	if len(r.Entries()) != 0 || r.PendingCount() != 0 {
		t.Fatal("state survived Clear")
	}
	// A previously seen message renders again after a full reset.
	if got := r.Ingest(confirmed("m-1", model.SenderAdmin, "bye now", time.Now().UTC())); got != OutcomeAppended {
		t.Fatalf("post-clear ingest = %v", got)
	}
}
