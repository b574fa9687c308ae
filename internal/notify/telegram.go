// Package notify reports finished sync runs to a Telegram chat.
package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/tazhate/calmirror/internal/domain"
)

const maxReportedErrors = 10

// MessageSender delivers a message to a chat.
type MessageSender interface {
	SendMessage(chatID int64, text string) error
}

// TelegramSender sends HTML messages through the Bot API.
type TelegramSender struct {
	api *tgbotapi.BotAPI
}

// NewTelegramSender authorizes the bot with token.
func NewTelegramSender(token string) (*TelegramSender, error) {
	return NewTelegramSenderWithEndpoint(token, tgbotapi.APIEndpoint)
}

// NewTelegramSenderWithEndpoint is NewTelegramSender against a custom Bot API
// endpoint, e.g. a local Bot API server.
func NewTelegramSenderWithEndpoint(token, endpoint string) (*TelegramSender, error) {
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &TelegramSender{api: api}, nil
}

func (t *TelegramSender) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	_, err := t.api.Send(msg)
	return err
}

// Notifier formats run records and sends them to one chat.
type Notifier struct {
	sender     MessageSender
	chatID     int64
	onlyErrors bool
	logger     *zap.Logger
}

// NewNotifier creates a notifier. With onlyErrors set, successful runs are
// not reported.
func NewNotifier(sender MessageSender, chatID int64, onlyErrors bool, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{sender: sender, chatID: chatID, onlyErrors: onlyErrors, logger: logger}
}

// Report sends the summary of run.
func (n *Notifier) Report(_ context.Context, run domain.RunRecord) error {
	if n.onlyErrors && run.Status == domain.RunSuccess {
		return nil
	}
	if err := n.sender.SendMessage(n.chatID, FormatRun(run)); err != nil {
		return fmt.Errorf("send run report: %w", err)
	}
	n.logger.Debug("run report sent", zap.String("run_id", run.ID), zap.Int64("chat_id", n.chatID))
	return nil
}

// FormatRun renders run as Telegram HTML.
func FormatRun(run domain.RunRecord) string {
	var b strings.Builder

	switch run.Status {
	case domain.RunSuccess:
		b.WriteString("✅ <b>Calendar sync finished</b>\n")
	case domain.RunPartial:
		b.WriteString("⚠️ <b>Calendar sync finished with errors</b>\n")
	default:
		b.WriteString("❌ <b>Calendar sync failed</b>\n")
	}

	if run.Failure != "" {
		fmt.Fprintf(&b, "\n%s\n", html.EscapeString(run.Failure))
	} else {
		fmt.Fprintf(&b, "\n%s\n", html.EscapeString(run.Result.Summary()))
	}

	if len(run.Result.Errors) > 0 {
		b.WriteString("\n<b>Errors:</b>\n")
		for i, e := range run.Result.Errors {
			if i == maxReportedErrors {
				fmt.Fprintf(&b, "… and %d more\n", len(run.Result.Errors)-maxReportedErrors)
				break
			}
			fmt.Fprintf(&b, "• <code>%s</code>\n", html.EscapeString(e))
		}
	}

	if !run.StartedAt.IsZero() && !run.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "\n<i>%s, took %s</i>", run.StartedAt.Format("2006-01-02 15:04 MST"), run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	return b.String()
}
