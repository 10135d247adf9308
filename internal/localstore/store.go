package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"
)

var ErrNotFound = errors.New("not found")

// Keys carried over from the original client.
const (
	KeyLanguage   = "agro_lang"
	KeyOnboarding = "agro_onboarding_complete"
	KeyCoords     = "agro_coords"
	KeyHistory    = "agro_chat_history"
	KeyAutoplay   = "agro_autoplay"
)

const DefaultLanguage = "en"

// Coords is the cached geolocation fix.
type Coords struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Lat renders the latitude the way the backend form expects it.
func (c Coords) Lat() string { return strconv.FormatFloat(c.Latitude, 'f', -1, 64) }

func (c Coords) Lon() string { return strconv.FormatFloat(c.Longitude, 'f', -1, 64) }

// Store is the key namespace of one profile (one telegram chat, or the single
// local profile of the terminal client).
type Store struct {
	db     *DB
	scope  string
	logger zerolog.Logger
}

func (d *DB) Scope(scope string, logger zerolog.Logger) *Store {
	return &Store{db: d, scope: scope, logger: logger}
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	q := s.db.sql.Select("v").From("kv").Where(sq.Eq{"scope": s.scope, "k": key})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return "", fmt.Errorf("build kv get query: %w", err)
	}
	var v string
	if err := s.db.db.QueryRowContext(ctx, sqlStr, args...).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("kv get: %w", err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	q := s.db.sql.Insert("kv").
		Columns("scope", "k", "v", "updated_at").
		Values(s.scope, key, value, nowExpr(s.db.driver)).
		Suffix("ON CONFLICT(scope, k) DO UPDATE SET v=excluded.v, updated_at=excluded.updated_at")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build kv set query: %w", err)
	}
	if _, err := s.db.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("kv set: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	q := s.db.sql.Delete("kv").Where(sq.Eq{"scope": s.scope, "k": key})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build kv delete query: %w", err)
	}
	if _, err := s.db.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}

// Language returns the stored locale code, or "en" when absent or unusable.
func (s *Store) Language(ctx context.Context) string {
	v, err := s.Get(ctx, KeyLanguage)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn().Err(err).Str("scope", s.scope).Msg("failed to read language preference")
		}
		return DefaultLanguage
	}
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return DefaultLanguage
	}
	return v
}

func (s *Store) SetLanguage(ctx context.Context, code string) {
	if err := s.Set(ctx, KeyLanguage, code); err != nil {
		s.logger.Warn().Err(err).Str("scope", s.scope).Msg("failed to persist language preference")
	}
}

func (s *Store) OnboardingComplete(ctx context.Context) bool {
	v, err := s.Get(ctx, KeyOnboarding)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn().Err(err).Str("scope", s.scope).Msg("failed to read onboarding flag")
		}
		return false
	}
	return v == "true"
}

func (s *Store) SetOnboardingComplete(ctx context.Context) {
	if err := s.Set(ctx, KeyOnboarding, "true"); err != nil {
		s.logger.Warn().Err(err).Str("scope", s.scope).Msg("failed to persist onboarding flag")
	}
}

// Coordinates returns the cached fix, reporting false when none is stored or
// the stored value does not parse. A corrupt value is discarded, not surfaced.
func (s *Store) Coordinates(ctx context.Context) (Coords, bool) {
	v, err := s.Get(ctx, KeyCoords)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn().Err(err).Str("scope", s.scope).Msg("failed to read coordinates")
		}
		return Coords{}, false
	}
	var c Coords
	if err := json.Unmarshal([]byte(v), &c); err != nil {
		s.logger.Warn().Err(err).Str("scope", s.scope).Msg("discarding malformed coordinates")
		return Coords{}, false
	}
	return c, true
}

func (s *Store) SetCoordinates(ctx context.Context, c Coords) {
	b, err := json.Marshal(c)
	if err != nil {
		s.logger.Warn().Err(err).Str("scope", s.scope).Msg("failed to encode coordinates")
		return
	}
	if err := s.Set(ctx, KeyCoords, string(b)); err != nil {
		s.logger.Warn().Err(err).Str("scope", s.scope).Msg("failed to persist coordinates")
	}
}

func (s *Store) AutoplayEnabled(ctx context.Context) bool {
	v, err := s.Get(ctx, KeyAutoplay)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn().Err(err).Str("scope", s.scope).Msg("failed to read autoplay preference")
		}
		return false
	}
	return v == "true"
}

func (s *Store) SetAutoplay(ctx context.Context, enabled bool) {
	if err := s.Set(ctx, KeyAutoplay, strconv.FormatBool(enabled)); err != nil {
		s.logger.Warn().Err(err).Str("scope", s.scope).Msg("failed to persist autoplay preference")
	}
}

// HistoryBlob returns the raw persisted history collection; interpretation
// (including corruption recovery) belongs to the history store.
func (s *Store) HistoryBlob(ctx context.Context) (string, error) {
	return s.Get(ctx, KeyHistory)
}

func (s *Store) SetHistoryBlob(ctx context.Context, blob string) error {
	return s.Set(ctx, KeyHistory, blob)
}
