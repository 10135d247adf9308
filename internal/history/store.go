// Package history keeps the bounded collection of saved conversations: at
// most ten entries, newest insertions first, persisted as one blob in the
// localstore under the profile's history key.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"agrobot/internal/chat"
	"agrobot/internal/crypto"
	"agrobot/internal/localstore"
	"agrobot/internal/metrics"
)

const (
	// MaxEntries bounds the collection; the oldest insertion is evicted first.
	MaxEntries = 10

	titleRunes   = 30
	defaultTitle = "New Chat"
)

// Entry is a persisted snapshot of one conversation.
type Entry struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Messages  []chat.Message `json:"messages"`
	Timestamp time.Time      `json:"timestamp"`
}

// Blob is the persistence surface the store writes through; *localstore.Store
// satisfies it.
type Blob interface {
	HistoryBlob(ctx context.Context) (string, error)
	SetHistoryBlob(ctx context.Context, blob string) error
}

type Store struct {
	mu      sync.Mutex
	entries []Entry

	blob    Blob
	sealer  *crypto.Sealer // optional; nil means plain JSON at rest
	logger  zerolog.Logger
	metrics *metrics.Metrics
	clock   func() time.Time

	pending sync.WaitGroup
}

type Config struct {
	Blob    Blob
	Sealer  *crypto.Sealer
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	Clock   func() time.Time
}

func NewStore(cfg Config) *Store {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Store{
		blob:    cfg.Blob,
		sealer:  cfg.Sealer,
		logger:  cfg.Logger,
		metrics: m,
		clock:   clock,
	}
}

// Load reads the persisted collection. Absent or corrupt data degrades to an
// empty collection; corruption is logged, never propagated.
func (st *Store) Load(ctx context.Context) {
	raw, err := st.blob.HistoryBlob(ctx)
	if err != nil {
		if !errors.Is(err, localstore.ErrNotFound) {
			st.logger.Warn().Err(err).Msg("failed to read chat history, starting empty")
		}
		return
	}

	payload := []byte(raw)
	if st.sealer != nil {
		opened, err := st.sealer.Open(raw)
		if err != nil {
			st.logger.Warn().Err(err).Msg("discarding unreadable sealed chat history")
			return
		}
		payload = opened
	}

	var entries []Entry
	if err := json.Unmarshal(payload, &entries); err != nil {
		st.logger.Warn().Err(err).Msg("discarding malformed chat history")
		return
	}
	if len(entries) > MaxEntries {
		entries = entries[:MaxEntries]
	}

	st.mu.Lock()
	st.entries = entries
	st.mu.Unlock()
}

// Save records a snapshot for id. Saving an empty transcript is a no-op. An
// existing id is replaced in place, keeping its position; a new id is
// prepended and the tail trimmed to the cap. The whole collection is
// persisted after every save.
func (st *Store) Save(ctx context.Context, id string, messages []chat.Message) error {
	if len(messages) == 0 {
		return nil
	}

	msgs := make([]chat.Message, len(messages))
	copy(msgs, messages)
	entry := Entry{
		ID:        id,
		Title:     deriveTitle(msgs[0].Text),
		Messages:  msgs,
		Timestamp: st.clock(),
	}

	st.mu.Lock()
	replaced := false
	for i := range st.entries {
		if st.entries[i].ID == id {
			st.entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		st.entries = append([]Entry{entry}, st.entries...)
		if len(st.entries) > MaxEntries {
			st.entries = st.entries[:MaxEntries]
		}
	}
	payload, err := json.Marshal(st.entries)
	st.mu.Unlock()

	if err != nil {
		return fmt.Errorf("encode chat history: %w", err)
	}

	blob := string(payload)
	if st.sealer != nil {
		sealed, err := st.sealer.Seal(payload)
		if err != nil {
			return fmt.Errorf("seal chat history: %w", err)
		}
		blob = sealed
	}
	if err := st.blob.SetHistoryBlob(ctx, blob); err != nil {
		return fmt.Errorf("persist chat history: %w", err)
	}
	st.metrics.HistorySaves.Inc()
	return nil
}

// SaveAsync queues a fire-and-forget save: at most one task per mutation,
// last write wins, and failures are logged, never surfaced to the caller.
func (st *Store) SaveAsync(id string, messages []chat.Message) {
	if len(messages) == 0 {
		return
	}
	st.pending.Add(1)
	go func() {
		defer st.pending.Done()
		if err := st.Save(context.Background(), id, messages); err != nil {
			st.metrics.HistorySaveErrors.Inc()
			st.logger.Warn().Err(err).Str("session_id", id).Msg("background history save failed")
		}
	}()
}

// Flush waits for queued background saves; used on shutdown and in tests.
func (st *Store) Flush() {
	st.pending.Wait()
}

// Entries returns a copy of the collection, newest insertions first.
func (st *Store) Entries() []Entry {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Entry, len(st.entries))
	copy(out, st.entries)
	return out
}

// Get looks up a snapshot by session id.
func (st *Store) Get(id string) (Entry, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, e := range st.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.entries)
}

// deriveTitle mirrors the sidebar label rule: first message text, truncated
// to 30 runes with "..." when longer, defaulting when there is no text.
func deriveTitle(text string) string {
	if text == "" {
		return defaultTitle
	}
	runes := []rune(text)
	if len(runes) <= titleRunes {
		return text
	}
	return string(runes[:titleRunes]) + "..."
}
