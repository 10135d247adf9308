package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"agrobot/internal/chat"
	"agrobot/internal/crypto"
	"agrobot/internal/localstore"
)

// memBlob is an in-memory stand-in for the localstore history key.
type memBlob struct {
	mu    sync.Mutex
	value string
	set   bool
	fail  bool
}

func (b *memBlob) HistoryBlob(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.set {
		return "", localstore.ErrNotFound
	}
	return b.value, nil
}

func (b *memBlob) SetHistoryBlob(ctx context.Context, blob string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return errors.New("disk full")
	}
	b.value = blob
	b.set = true
	return nil
}

func newTestStore(blob Blob, sealer *crypto.Sealer) *Store {
	return NewStore(Config{
		Blob:   blob,
		Sealer: sealer,
		Logger: zerolog.Nop(),
		Clock:  func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
}

func userMsg(text string) []chat.Message {
	return []chat.Message{{Sender: chat.SenderUser, Text: text}}
}

func TestSaveEmptyTranscriptIsNoop(t *testing.T) {
	blob := &memBlob{}
	st := newTestStore(blob, nil)

	if err := st.Save(context.Background(), "s1", nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	if st.Len() != 0 {
		t.Fatalf("expected no entries, got %d", st.Len())
	}
	if blob.set {
		t.Fatalf("expected nothing persisted")
	}
}

func TestSaveNewEntriesNewestFirst(t *testing.T) {
	st := newTestStore(&memBlob{}, nil)

	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("s%d", i)
		if err := st.Save(context.Background(), id, userMsg("question "+id)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	entries := st.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].ID != "s3" || entries[2].ID != "s1" {
		t.Fatalf("expected newest first, got order %s, %s, %s", entries[0].ID, entries[1].ID, entries[2].ID)
	}
}

func TestSaveExistingKeepsPosition(t *testing.T) {
	st := newTestStore(&memBlob{}, nil)

	for _, id := range []string{"a", "b", "c"} {
		if err := st.Save(context.Background(), id, userMsg(id)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	// "b" sits in the middle; updating it must not move it to the front.
	if err := st.Save(context.Background(), "b", userMsg("b updated")); err != nil {
		t.Fatalf("update b: %v", err)
	}

	entries := st.Entries()
	if entries[1].ID != "b" {
		t.Fatalf("expected b to keep position 1, got %s", entries[1].ID)
	}
	if entries[1].Title != "b updated" {
		t.Fatalf("expected refreshed title, got %q", entries[1].Title)
	}
}

func TestCapEvictsOldest(t *testing.T) {
	st := newTestStore(&memBlob{}, nil)

	for i := 1; i <= MaxEntries+2; i++ {
		id := fmt.Sprintf("s%d", i)
		if err := st.Save(context.Background(), id, userMsg(id)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	if st.Len() != MaxEntries {
		t.Fatalf("expected %d entries, got %d", MaxEntries, st.Len())
	}
	if _, ok := st.Get("s1"); ok {
		t.Fatalf("expected oldest entry s1 evicted")
	}
	if _, ok := st.Get("s2"); ok {
		t.Fatalf("expected s2 evicted too")
	}
	entries := st.Entries()
	if entries[0].ID != fmt.Sprintf("s%d", MaxEntries+2) {
		t.Fatalf("expected newest entry first, got %s", entries[0].ID)
	}
}

func TestDeriveTitle(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"", defaultTitle},
		{"short question", "short question"},
		{strings.Repeat("x", 30), strings.Repeat("x", 30)},
		{strings.Repeat("x", 31), strings.Repeat("x", 30) + "..."},
		{strings.Repeat("న", 40), strings.Repeat("న", 30) + "..."},
	}
	for _, tc := range cases {
		if got := deriveTitle(tc.text); got != tc.want {
			t.Fatalf("deriveTitle(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestLoadRoundTrip(t *testing.T) {
	blob := &memBlob{}
	st := newTestStore(blob, nil)
	if err := st.Save(context.Background(), "s1", userMsg("hello crops")); err != nil {
		t.Fatalf("save: %v", err)
	}

	st2 := newTestStore(blob, nil)
	st2.Load(context.Background())
	entry, ok := st2.Get("s1")
	if !ok {
		t.Fatalf("expected entry after reload")
	}
	if entry.Title != "hello crops" {
		t.Fatalf("unexpected title %q", entry.Title)
	}
	if len(entry.Messages) != 1 || entry.Messages[0].Text != "hello crops" {
		t.Fatalf("unexpected messages %+v", entry.Messages)
	}
}

func TestLoadCorruptBlobStartsEmpty(t *testing.T) {
	blob := &memBlob{value: "{not json", set: true}
	st := newTestStore(blob, nil)
	st.Load(context.Background())
	if st.Len() != 0 {
		t.Fatalf("expected empty collection, got %d entries", st.Len())
	}
}

func TestSealedRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	sealer, err := crypto.NewSealer("k1", map[string][]byte{"k1": key})
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}

	blob := &memBlob{}
	st := newTestStore(blob, sealer)
	if err := st.Save(context.Background(), "s1", userMsg("secret farm notes")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if strings.Contains(blob.value, "secret farm notes") {
		t.Fatalf("expected plaintext to be unreadable at rest")
	}

	st2 := newTestStore(blob, sealer)
	st2.Load(context.Background())
	if _, ok := st2.Get("s1"); !ok {
		t.Fatalf("expected sealed entry to load")
	}

	// Without the key the blob is treated as corrupt, not fatal.
	st3 := newTestStore(blob, nil)
	st3.Load(context.Background())
	if st3.Len() != 0 {
		t.Fatalf("expected unreadable blob to degrade to empty")
	}
}

func TestSaveAsyncFlush(t *testing.T) {
	blob := &memBlob{}
	st := newTestStore(blob, nil)

	st.SaveAsync("s1", userMsg("async"))
	st.Flush()

	if _, ok := st.Get("s1"); !ok {
		t.Fatalf("expected entry after flush")
	}
	if !blob.set {
		t.Fatalf("expected blob persisted after flush")
	}
}

func TestSaveAsyncPersistFailureDoesNotPanic(t *testing.T) {
	blob := &memBlob{fail: true}
	st := newTestStore(blob, nil)

	st.SaveAsync("s1", userMsg("doomed"))
	st.Flush()

	// Entry stays in memory even though persistence failed.
	if _, ok := st.Get("s1"); !ok {
		t.Fatalf("expected in-memory entry despite persist failure")
	}
}
