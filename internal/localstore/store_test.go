package localstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	db, err := Open(context.Background(), "sqlite", dsn, true, "")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestGetSetDelete(t *testing.T) {
	db := openTestDB(t)
	s := db.Scope("chat1", zerolog.Nop())
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, err := s.Get(ctx, "k"); err != nil || got != "v1" {
		t.Fatalf("get: %q, %v", got, err)
	}

	// Upsert replaces in place.
	if err := s.Set(ctx, "k", "v2"); err != nil {
		t.Fatalf("set#2: %v", err)
	}
	if got, _ := s.Get(ctx, "k"); got != "v2" {
		t.Fatalf("expected v2, got %q", got)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestScopesAreIsolated(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a := db.Scope("chat-a", zerolog.Nop())
	b := db.Scope("chat-b", zerolog.Nop())

	a.SetLanguage(ctx, "te")
	if got := b.Language(ctx); got != DefaultLanguage {
		t.Fatalf("expected scope b untouched, got %q", got)
	}
	if got := a.Language(ctx); got != "te" {
		t.Fatalf("expected te for scope a, got %q", got)
	}
}

func TestLanguageDefaults(t *testing.T) {
	db := openTestDB(t)
	s := db.Scope("chat1", zerolog.Nop())
	ctx := context.Background()

	if got := s.Language(ctx); got != "en" {
		t.Fatalf("expected default en, got %q", got)
	}

	s.SetLanguage(ctx, "kn")
	if got := s.Language(ctx); got != "kn" {
		t.Fatalf("expected kn, got %q", got)
	}
}

func TestOnboardingFlag(t *testing.T) {
	db := openTestDB(t)
	s := db.Scope("chat1", zerolog.Nop())
	ctx := context.Background()

	if s.OnboardingComplete(ctx) {
		t.Fatalf("expected onboarding incomplete by default")
	}
	s.SetOnboardingComplete(ctx)
	if !s.OnboardingComplete(ctx) {
		t.Fatalf("expected onboarding complete after set")
	}
}

func TestCoordinates(t *testing.T) {
	db := openTestDB(t)
	s := db.Scope("chat1", zerolog.Nop())
	ctx := context.Background()

	if _, ok := s.Coordinates(ctx); ok {
		t.Fatalf("expected no coordinates by default")
	}

	s.SetCoordinates(ctx, Coords{Latitude: 12.9716, Longitude: 77.5946})
	coords, ok := s.Coordinates(ctx)
	if !ok {
		t.Fatalf("expected coordinates after set")
	}
	if coords.Latitude != 12.9716 || coords.Longitude != 77.5946 {
		t.Fatalf("unexpected coords %+v", coords)
	}
	if coords.Lat() != "12.9716" || coords.Lon() != "77.5946" {
		t.Fatalf("unexpected string forms %q,%q", coords.Lat(), coords.Lon())
	}
}

func TestMalformedCoordinatesDegradeToAbsent(t *testing.T) {
	db := openTestDB(t)
	s := db.Scope("chat1", zerolog.Nop())
	ctx := context.Background()

	if err := s.Set(ctx, KeyCoords, "{broken"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok := s.Coordinates(ctx); ok {
		t.Fatalf("expected malformed coordinates to read as absent")
	}
}

func TestAutoplayDefaultOff(t *testing.T) {
	db := openTestDB(t)
	s := db.Scope("chat1", zerolog.Nop())
	ctx := context.Background()

	if s.AutoplayEnabled(ctx) {
		t.Fatalf("expected autoplay off by default")
	}
	s.SetAutoplay(ctx, true)
	if !s.AutoplayEnabled(ctx) {
		t.Fatalf("expected autoplay on after set")
	}
	s.SetAutoplay(ctx, false)
	if s.AutoplayEnabled(ctx) {
		t.Fatalf("expected autoplay off after unset")
	}
}

func TestHistoryBlobRoundTrip(t *testing.T) {
	db := openTestDB(t)
	s := db.Scope("chat1", zerolog.Nop())
	ctx := context.Background()

	if _, err := s.HistoryBlob(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for fresh profile, got %v", err)
	}
	if err := s.SetHistoryBlob(ctx, `[{"id":"x"}]`); err != nil {
		t.Fatalf("set blob: %v", err)
	}
	got, err := s.HistoryBlob(ctx)
	if err != nil || got != `[{"id":"x"}]` {
		t.Fatalf("blob round trip: %q, %v", got, err)
	}
}
