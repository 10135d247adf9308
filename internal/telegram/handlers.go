package telegram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"agrobot/internal/chat"
	"agrobot/internal/localstore"
)

func (s *Service) start(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	p := s.getProfile(ctx.EffectiveChat.Id)
	if !p.prefs.OnboardingComplete(context.Background()) {
		return s.replyWithMarkup(ctx, b, onboardingLanguageText(), languageKeyboard())
	}
	return s.replyWithMarkup(ctx, b, welcomeText(), suggestionsKeyboard())
}

func (s *Service) help(b *gotgbot.Bot, ctx *ext.Context) error {
	return s.reply(ctx, b, helpText())
}

func (s *Service) newChat(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	p := s.getProfile(ctx.EffectiveChat.Id)
	p.session.Reset()
	return s.replyWithMarkup(ctx, b, "Started a new chat. Ask me anything about your crops.", suggestionsKeyboard())
}

func (s *Service) historyList(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	p := s.getProfile(ctx.EffectiveChat.Id)
	entries := p.history.Entries()
	if len(entries) == 0 {
		return s.reply(ctx, b, "No saved chats yet.")
	}
	return s.replyWithMarkup(ctx, b, "Saved chats (newest first):", historyKeyboard(entries))
}

func (s *Service) lang(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveChat == nil || ctx.EffectiveMessage == nil {
		return nil
	}
	code := strings.ToLower(strings.TrimSpace(commandRemainder(ctx.EffectiveMessage.GetText())))
	if code == "" {
		return s.replyWithMarkup(ctx, b, "Choose your language:", languageKeyboard())
	}
	if !validLanguage(code) {
		return s.reply(ctx, b, "Supported languages: en, hi, te, kn")
	}
	p := s.getProfile(ctx.EffectiveChat.Id)
	p.prefs.SetLanguage(context.Background(), code)
	return s.reply(ctx, b, "Language set to "+languageName(code)+".")
}

func (s *Service) autoplayToggle(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	p := s.getProfile(ctx.EffectiveChat.Id)
	enabled := !p.prefs.AutoplayEnabled(context.Background())
	p.prefs.SetAutoplay(context.Background(), enabled)
	if enabled {
		return s.reply(ctx, b, "Voice replies on. I will attach audio to answers when available.")
	}
	return s.reply(ctx, b, "Voice replies off.")
}

// skipLocation finishes onboarding without coordinates. Weather-aware advice
// stays off until a location is shared.
func (s *Service) skipLocation(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	p := s.getProfile(ctx.EffectiveChat.Id)
	p.prefs.SetOnboardingComplete(context.Background())
	return s.replyWithMarkup(ctx, b, "No problem, you can share your location any time. Let's get started!", suggestionsKeyboard())
}

func (s *Service) onLocation(b *gotgbot.Bot, ctx *ext.Context) error {
	msg := ctx.EffectiveMessage
	if msg == nil || ctx.EffectiveChat == nil || msg.Location == nil {
		return nil
	}
	p := s.getProfile(ctx.EffectiveChat.Id)
	coords := localstore.Coords{Latitude: msg.Location.Latitude, Longitude: msg.Location.Longitude}
	p.prefs.SetCoordinates(context.Background(), coords)
	p.prefs.SetOnboardingComplete(context.Background())

	reply := "Location saved. Your advice will now consider local weather."
	if name, err := s.client.LocationName(context.Background(), coords.Lat(), coords.Lon()); err == nil && name != "" {
		reply = "Location saved: " + name + ". Your advice will now consider local weather."
	}
	return s.replyWithMarkup(ctx, b, reply, suggestionsKeyboard())
}

func (s *Service) onText(b *gotgbot.Bot, ctx *ext.Context) error {
	msg := ctx.EffectiveMessage
	if msg == nil || ctx.EffectiveChat == nil {
		return nil
	}
	text := strings.TrimSpace(msg.GetText())
	if text == "" || strings.HasPrefix(text, "/") {
		return nil
	}
	return s.sendTurn(b, ctx, chat.Input{Text: text})
}

func (s *Service) onPhoto(b *gotgbot.Bot, ctx *ext.Context) error {
	msg := ctx.EffectiveMessage
	if msg == nil || ctx.EffectiveChat == nil || len(msg.Photo) == 0 {
		return nil
	}

	// Largest rendition is last.
	fileID := msg.Photo[len(msg.Photo)-1].FileId
	image, err := s.downloadFile(b, fileID)
	if err != nil {
		s.logger.Error().Err(err).Int64("chat_id", ctx.EffectiveChat.Id).Msg("photo download failed")
		return s.reply(ctx, b, "Couldn't read that photo, please try again.")
	}

	return s.sendTurn(b, ctx, chat.Input{Text: strings.TrimSpace(msg.Caption), Image: image})
}

// sendTurn runs one conversation turn and renders the outcome back into the
// chat. Everything the session layer recovers from (backend failure, empty
// answer) arrives here as a normal assistant message.
func (s *Service) sendTurn(b *gotgbot.Bot, ctx *ext.Context, in chat.Input) error {
	chatID := ctx.EffectiveChat.Id
	if !s.allowRate(chatID, b, ctx) {
		return nil
	}

	p := s.getProfile(chatID)
	_, _ = b.SendChatAction(chatID, "typing", nil)

	if err := p.session.Send(context.Background(), in); err != nil {
		s.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("turn failed at transport level")
	}

	msgs := p.session.Messages()
	if len(msgs) == 0 {
		return nil
	}
	last := msgs[len(msgs)-1]
	if last.Sender != chat.SenderAssistant {
		// Response was dropped because the session changed mid-flight.
		return nil
	}

	if err := s.reply(ctx, b, clampText(last.Text)); err != nil {
		return err
	}
	if last.HasAudio() && p.prefs.AutoplayEnabled(context.Background()) {
		s.sendVoice(b, chatID, last.Audio)
	}
	return nil
}

func (s *Service) sendVoice(b *gotgbot.Bot, chatID int64, mp3 []byte) {
	_, err := b.SendAudio(chatID, gotgbot.InputFileByReader("answer.mp3", bytes.NewReader(mp3)), nil)
	if err != nil {
		s.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("failed to send audio reply")
		return
	}
	s.metrics.AudioPlays.Inc()
}

func (s *Service) downloadFile(b *gotgbot.Bot, fileID string) ([]byte, error) {
	f, err := b.GetFile(fileID, nil)
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	resp, err := s.httpClient.Get(f.URL(b, nil))
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("download file status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

func (s *Service) allowRate(chatID int64, b *gotgbot.Bot, ctx *ext.Context) bool {
	if s.rateLimiter == nil {
		return true
	}
	ok, _, resetAt, err := s.rateLimiter.Allow(context.Background(), chatID, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("rate limiter failed")
		return true
	}
	if ok {
		return true
	}
	_ = s.reply(ctx, b, "Rate limit exceeded. Try again after "+resetAt.Format("15:04 UTC"))
	return false
}

func (s *Service) reply(ctx *ext.Context, b *gotgbot.Bot, text string) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	_, err := b.SendMessage(ctx.EffectiveChat.Id, text, nil)
	return err
}

func (s *Service) replyWithMarkup(ctx *ext.Context, b *gotgbot.Bot, text string, markup *gotgbot.InlineKeyboardMarkup) error {
	if ctx == nil || ctx.EffectiveChat == nil {
		return nil
	}
	opts := &gotgbot.SendMessageOpts{}
	if markup != nil {
		opts.ReplyMarkup = *markup
	}
	_, err := b.SendMessage(ctx.EffectiveChat.Id, text, opts)
	return err
}

func commandRemainder(text string) string {
	parts := strings.SplitN(strings.TrimSpace(text), " ", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// clampText keeps replies under telegram's message size limit.
func clampText(text string) string {
	r := []rune(text)
	if len(r) <= 4000 {
		return text
	}
	return string(r[:4000])
}
