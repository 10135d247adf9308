package telegram

import (
	"fmt"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"

	"agrobot/internal/history"
	"agrobot/internal/inference"
)

const (
	cbPrefix = "ag:"

	cbLang = cbPrefix + "lang:"
	cbLoad = cbPrefix + "load:"
	cbSug  = cbPrefix + "sug:"
	cbSkip = cbPrefix + "skip"
)

var suggestions = []string{
	"Is my crop looking healthy?",
	"Weather forecast for tomorrow?",
	"Identify this plant disease",
	"Tips for tomato farming",
}

var languageLabels = map[string]string{
	"en": "English",
	"hi": "हिंदी",
	"te": "తెలుగు",
	"kn": "ಕನ್ನಡ",
}

func welcomeText() string {
	return strings.Join([]string{
		"Welcome to AgroHelp",
		"Your personal agriculture assistant.",
		"",
		"Ask a question, send a photo of a crop, or pick one of the suggestions below.",
		"Use /help to see all commands.",
	}, "\n")
}

func onboardingLanguageText() string {
	return strings.Join([]string{
		"Welcome to AgroHelp!",
		"",
		"First, choose the language you want answers in:",
	}, "\n")
}

func locationPromptText() string {
	return strings.Join([]string{
		"Great. Now share your location so advice can account for local weather.",
		"",
		"Use the attachment menu to send a location, or tap Skip.",
	}, "\n")
}

func helpText() string {
	return strings.Join([]string{
		"AgroHelp commands",
		"",
		"/new - start a fresh chat",
		"/history - list saved chats",
		"/lang [code] - change answer language (en, hi, te, kn)",
		"/autoplay - toggle voice replies",
		"/skip - skip location sharing",
		"/help - this message",
		"",
		"Send any text to ask a question.",
		"Send a photo of a crop for a diagnosis, caption optional.",
		"Share a location to get weather-aware advice.",
	}, "\n")
}

func languageKeyboard() *gotgbot.InlineKeyboardMarkup {
	row := make([]gotgbot.InlineKeyboardButton, 0, len(inference.Languages))
	for _, code := range inference.Languages {
		row = append(row, gotgbot.InlineKeyboardButton{
			Text:         languageName(code),
			CallbackData: cbLang + code,
		})
	}
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: [][]gotgbot.InlineKeyboardButton{
		row[:2],
		row[2:],
	}}
}

func locationKeyboard() *gotgbot.InlineKeyboardMarkup {
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: [][]gotgbot.InlineKeyboardButton{
		{{Text: "Skip for now", CallbackData: cbSkip}},
	}}
}

func suggestionsKeyboard() *gotgbot.InlineKeyboardMarkup {
	rows := make([][]gotgbot.InlineKeyboardButton, 0, len(suggestions))
	for i, s := range suggestions {
		rows = append(rows, []gotgbot.InlineKeyboardButton{
			{Text: s, CallbackData: fmt.Sprintf("%s%d", cbSug, i)},
		})
	}
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func historyKeyboard(entries []history.Entry) *gotgbot.InlineKeyboardMarkup {
	rows := make([][]gotgbot.InlineKeyboardButton, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []gotgbot.InlineKeyboardButton{
			{Text: e.Title, CallbackData: cbLoad + e.ID},
		})
	}
	return &gotgbot.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func languageName(code string) string {
	if name, ok := languageLabels[code]; ok {
		return name
	}
	return code
}

func validLanguage(code string) bool {
	return inference.ValidLanguage(code)
}
