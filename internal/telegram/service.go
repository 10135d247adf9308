// Package telegram is the bot shell: it maps telegram chats onto assistant
// profiles (preferences, history, active session) and renders transcripts as
// telegram messages.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/callbackquery"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/message"
	"github.com/rs/zerolog"

	"agrobot/internal/chat"
	"agrobot/internal/crypto"
	"agrobot/internal/history"
	"agrobot/internal/inference"
	"agrobot/internal/localstore"
	"agrobot/internal/metrics"
	"agrobot/internal/queue"
)

// profile bundles the per-chat state: preferences, bounded history and the
// active session.
type profile struct {
	prefs   *localstore.Store
	history *history.Store
	session *chat.Session
}

type Service struct {
	db          *localstore.DB
	client      *inference.Client
	rateLimiter *queue.RateLimiter
	sealer      *crypto.Sealer
	httpClient  *http.Client
	logger      zerolog.Logger
	metrics     *metrics.Metrics

	defaultLanguage string

	mu       sync.Mutex
	profiles map[int64]*profile
}

type Config struct {
	DB              *localstore.DB
	Client          *inference.Client
	RateLimiter     *queue.RateLimiter
	Sealer          *crypto.Sealer
	HTTPClient      *http.Client
	Logger          zerolog.Logger
	Metrics         *metrics.Metrics
	DefaultLanguage string
}

func NewService(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = localstore.DefaultLanguage
	}
	return &Service{
		db:              cfg.DB,
		client:          cfg.Client,
		rateLimiter:     cfg.RateLimiter,
		sealer:          cfg.Sealer,
		httpClient:      cfg.HTTPClient,
		logger:          cfg.Logger,
		metrics:         m,
		defaultLanguage: cfg.DefaultLanguage,
		profiles:        make(map[int64]*profile),
	}
}

func (s *Service) Register(d *ext.Dispatcher) {
	d.AddHandler(handlers.NewCommand("start", s.start))
	d.AddHandler(handlers.NewCommand("help", s.help))
	d.AddHandler(handlers.NewCommand("new", s.newChat))
	d.AddHandler(handlers.NewCommand("history", s.historyList))
	d.AddHandler(handlers.NewCommand("lang", s.lang))
	d.AddHandler(handlers.NewCommand("autoplay", s.autoplayToggle))
	d.AddHandler(handlers.NewCommand("skip", s.skipLocation))
	d.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbPrefix), s.onCallback))
	d.AddHandler(handlers.NewMessage(message.Location, s.onLocation))
	d.AddHandler(handlers.NewMessage(message.Photo, s.onPhoto))
	d.AddHandler(handlers.NewMessage(func(msg *gotgbot.Message) bool {
		return message.Text(msg)
	}, s.onText))
}

// getProfile returns the chat's profile, building it (and loading its
// persisted history) on first touch.
func (s *Service) getProfile(chatID int64) *profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[chatID]; ok {
		return p
	}

	scope := strconv.FormatInt(chatID, 10)
	prefs := s.db.Scope(scope, s.logger)
	if s.defaultLanguage != localstore.DefaultLanguage {
		if _, err := prefs.Get(context.Background(), localstore.KeyLanguage); errors.Is(err, localstore.ErrNotFound) {
			prefs.SetLanguage(context.Background(), s.defaultLanguage)
		}
	}
	hist := history.NewStore(history.Config{
		Blob:    prefs,
		Sealer:  s.sealer,
		Logger:  s.logger,
		Metrics: s.metrics,
	})
	hist.Load(context.Background())

	p := &profile{
		prefs:   prefs,
		history: hist,
		session: chat.NewSession(chat.Config{
			Backend: s.client,
			Saver:   hist,
			Prefs:   prefs,
			Logger:  s.logger,
			Metrics: s.metrics,
		}),
	}
	s.profiles[chatID] = p
	return p
}

// Flush waits for outstanding background history saves; called on shutdown.
func (s *Service) Flush() {
	s.mu.Lock()
	profiles := make([]*profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		profiles = append(profiles, p)
	}
	s.mu.Unlock()
	for _, p := range profiles {
		p.history.Flush()
	}
}

func (s *Service) now() time.Time {
	return time.Now().UTC()
}
