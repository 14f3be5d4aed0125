package delivery

import (
	"context"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tujanalyst/tujanalyst/internal/models"
)

// telegramMaxRunes is the Bot API message length limit.
const telegramMaxRunes = 4096

// MessageSender sends one Bot API message. *tgbotapi.BotAPI satisfies it.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramChannel sends reports to one chat as HTML messages.
type TelegramChannel struct {
	api    MessageSender
	chatID int64
}

// NewTelegramChannel creates a Telegram channel.
func NewTelegramChannel(api MessageSender, chatID int64) *TelegramChannel {
	return &TelegramChannel{api: api, chatID: chatID}
}

// NewTelegramBot connects to the Bot API with token.
func NewTelegramBot(token string, chatID int64) (*TelegramChannel, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return NewTelegramChannel(api, chatID), nil
}

// Name implements Channel.
func (t *TelegramChannel) Name() string { return "telegram" }

// Send implements Channel.
func (t *TelegramChannel) Send(ctx context.Context, report *models.AnalysisReport) error {
	if t.chatID == 0 {
		return fmt.Errorf("telegram chat id not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, TelegramMessage(report))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// TelegramMessage renders a report as Telegram HTML.
func TelegramMessage(report *models.AnalysisReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b>\n", recommendationEmoji(report), html.EscapeString(report.Title))
	fmt.Fprintf(&b, "<b>%s</b>\n\n", html.EscapeString(report.RecommendationSummary))

	footer := fmt.Sprintf("\n\nReport ID: <code>%s</code>\n<i>%s</i>", html.EscapeString(report.ReportID), disclaimer)
	budget := telegramMaxRunes - utf8.RuneCountInString(b.String()) - utf8.RuneCountInString(footer)
	b.WriteString(escapeWithin(report.ExecutiveSummary, budget))
	b.WriteString(footer)
	return b.String()
}

// escapeWithin HTML-escapes text, trimming it so the escaped form fits in
// budget runes.
func escapeWithin(text string, budget int) string {
	escaped := html.EscapeString(text)
	if utf8.RuneCountInString(escaped) <= budget {
		return escaped
	}
	runes := []rune(text)
	for n := min(len(runes), budget-1); n > 0; {
		escaped = html.EscapeString(string(runes[:n])) + "…"
		over := utf8.RuneCountInString(escaped) - budget
		if over <= 0 {
			return escaped
		}
		n -= over
	}
	return ""
}

func recommendationEmoji(report *models.AnalysisReport) string {
	switch report.Recommendation {
	case models.RecommendationBuy:
		return "🟢"
	case models.RecommendationSell:
		return "🔴"
	case models.RecommendationHold:
		return "🟡"
	default:
		return "⚪"
	}
}
