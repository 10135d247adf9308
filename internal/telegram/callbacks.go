package telegram

import (
	"context"
	"strconv"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"

	"agrobot/internal/chat"
)

func (s *Service) onCallback(b *gotgbot.Bot, ctx *ext.Context) error {
	if ctx == nil || ctx.CallbackQuery == nil {
		return nil
	}

	data := strings.TrimSpace(ctx.CallbackQuery.Data)
	chatID, ok := s.callbackChatID(ctx)
	if !ok {
		s.answerCallback(b, ctx, "Chat is unavailable for this action.", true)
		return nil
	}
	p := s.getProfile(chatID)

	switch {
	case strings.HasPrefix(data, cbLang):
		code := strings.TrimPrefix(data, cbLang)
		if !validLanguage(code) {
			s.answerCallback(b, ctx, "Unknown language: "+code, true)
			return nil
		}
		p.prefs.SetLanguage(context.Background(), code)
		s.answerCallback(b, ctx, "", false)
		if !p.prefs.OnboardingComplete(context.Background()) {
			return s.editOrReplyCallback(ctx, b, locationPromptText(), locationKeyboard())
		}
		return s.editOrReplyCallback(ctx, b, "Language set to "+languageName(code)+".", nil)

	case strings.HasPrefix(data, cbLoad):
		id := strings.TrimPrefix(data, cbLoad)
		entry, found := p.history.Get(id)
		if !found {
			s.answerCallback(b, ctx, "That chat is no longer in your history.", true)
			return nil
		}
		p.session.Load(entry.ID, entry.Messages)
		s.answerCallback(b, ctx, "", false)
		return s.editOrReplyCallback(ctx, b, transcriptText(entry.Title, entry.Messages), nil)

	case strings.HasPrefix(data, cbSug):
		i, err := strconv.Atoi(strings.TrimPrefix(data, cbSug))
		if err != nil || i < 0 || i >= len(suggestions) {
			s.answerCallback(b, ctx, "Unknown suggestion.", true)
			return nil
		}
		s.answerCallback(b, ctx, "", false)
		return s.sendTurn(b, ctx, chat.Input{Text: suggestions[i]})

	case data == cbSkip:
		p.prefs.SetOnboardingComplete(context.Background())
		s.answerCallback(b, ctx, "", false)
		return s.editOrReplyCallback(ctx, b, welcomeText(), suggestionsKeyboard())

	default:
		s.answerCallback(b, ctx, "Unknown action: "+data, true)
		return nil
	}
}

// transcriptText renders a loaded chat so the user sees what they resumed.
func transcriptText(title string, msgs []chat.Message) string {
	lines := []string{"Resumed: " + title, ""}
	for _, m := range msgs {
		prefix := "You: "
		if m.Sender == chat.SenderAssistant {
			prefix = "AgroHelp: "
		}
		text := m.Text
		if text == "" && len(m.Image) > 0 {
			text = "(photo)"
		}
		lines = append(lines, prefix+text)
	}
	lines = append(lines, "", "Send a message to continue this chat.")
	return clampText(strings.Join(lines, "\n"))
}

func (s *Service) answerCallback(b *gotgbot.Bot, ctx *ext.Context, text string, alert bool) {
	if ctx == nil || ctx.CallbackQuery == nil {
		return
	}
	opts := &gotgbot.AnswerCallbackQueryOpts{ShowAlert: alert}
	if text != "" {
		opts.Text = text
	}
	_, _ = b.AnswerCallbackQuery(ctx.CallbackQuery.Id, opts)
}

func (s *Service) editOrReplyCallback(ctx *ext.Context, b *gotgbot.Bot, text string, markup *gotgbot.InlineKeyboardMarkup) error {
	if ctx != nil && ctx.CallbackQuery != nil && ctx.CallbackQuery.Message != nil {
		opts := &gotgbot.EditMessageTextOpts{}
		if markup != nil {
			opts.ReplyMarkup = *markup
		}
		_, _, err := ctx.CallbackQuery.Message.EditText(b, text, opts)
		if err == nil {
			return nil
		}
		if strings.Contains(strings.ToLower(err.Error()), "message is not modified") {
			return nil
		}
		// Fallback to sending a regular message if edit failed.
	}
	return s.replyWithMarkup(ctx, b, text, markup)
}

func (s *Service) callbackChatID(ctx *ext.Context) (int64, bool) {
	if ctx != nil && ctx.EffectiveChat != nil {
		return ctx.EffectiveChat.Id, true
	}
	if ctx != nil && ctx.CallbackQuery != nil && ctx.CallbackQuery.Message != nil {
		c := ctx.CallbackQuery.Message.GetChat()
		return c.Id, true
	}
	return 0, false
}
