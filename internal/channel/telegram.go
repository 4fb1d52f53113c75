package channel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mootbot/internal/domain"
	"mootbot/internal/extract"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen        = 4000
	telegramMaxSendRetries   = 3
	telegramMaxDocumentBytes = 10 << 20
)

// Telegram implements domain.Channel for the Telegram Bot API via long
// polling.
type Telegram struct {
	token     string
	allowFrom []int64 // allowed user IDs (empty = allow all)
	parseMode string

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramChannelConfig struct {
	Token     string
	AllowFrom []string // user IDs as strings
	ParseMode string
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramChannelConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and begins polling for updates. It blocks
// until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	bus.OnOutbound("telegram", func(msg domain.OutboundMessage) {
		chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
		if err != nil {
			t.logger.Error("invalid chat ID for telegram outbound", "chatID", msg.ChatID, "err", err)
			return
		}
		t.deliver(chatID, msg.Content, msg.Buttons)
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: the bot stops when Start's context is cancelled, and
// StopReceivingUpdates panics when called twice.
func (t *Telegram) Stop() error {
	return nil
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		t.handleCallback(update.CallbackQuery)
		return
	}

	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		t.deliver(chatID, "Unauthorized. Your user ID is not in the allow list.", nil)
		return
	}

	if doc := update.Message.Document; doc != nil {
		t.handleDocument(chatID, userID, doc)
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}

	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(text),
	)

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = t.bot.Send(typing)

	t.bus.Publish(domain.NewInbound(
		"telegram",
		strconv.FormatInt(chatID, 10),
		strconv.FormatInt(userID, 10),
		text,
	))
}

// handleDocument downloads an uploaded case document, extracts its text,
// and publishes it like a typed message, so a student can hand in the case
// as a file. Problems are reported to the chat directly since nothing
// reaches the relay.
func (t *Telegram) handleDocument(chatID, userID int64, doc *tgbotapi.Document) {
	if !extract.Supported(doc.FileName) {
		t.deliver(chatID, "I can only read PDF, DOCX, or plain text documents. Please convert the file and upload it again, or paste the text directly.", nil)
		return
	}
	if doc.FileSize > telegramMaxDocumentBytes {
		t.deliver(chatID, "That document is too large. Please upload a file under 10 MB.", nil)
		return
	}

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = t.bot.Send(typing)

	data, err := t.downloadDocument(doc)
	if err != nil {
		t.logger.Error("telegram document download failed", "err", err, "file", doc.FileName)
		t.deliver(chatID, "I couldn't download that document. Please try again.", nil)
		return
	}

	text, err := extract.Text(doc.FileName, data)
	if err != nil {
		t.logger.Warn("document text extraction failed", "err", err, "file", doc.FileName)
		t.deliver(chatID, "I couldn't read any text from that document. Please check the file or paste the text directly.", nil)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		t.deliver(chatID, "That document appears to be empty. Please check the file or paste the text directly.", nil)
		return
	}

	t.logger.Info("telegram document received",
		"file", doc.FileName,
		"chars", len(text),
		"user_id", userID,
	)

	t.bus.Publish(domain.NewInbound(
		"telegram",
		strconv.FormatInt(chatID, 10),
		strconv.FormatInt(userID, 10),
		text,
	))
}

func (t *Telegram) downloadDocument(doc *tgbotapi.Document) ([]byte, error) {
	url, err := t.bot.GetFileDirectURL(doc.FileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file url: %w", err)
	}
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file download returned %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, telegramMaxDocumentBytes+1))
}

// handleCallback turns a keyboard press into an inbound message carrying
// the button's data, so the relay handles presses and typed commands the
// same way. The pressed keyboard is removed to prevent double submission.
func (t *Telegram) handleCallback(cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil || cq.Message.Chat == nil {
		return
	}
	chatID := cq.Message.Chat.ID

	callback := tgbotapi.NewCallback(cq.ID, "")
	_, _ = t.bot.Request(callback)

	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, cq.Message.MessageID,
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	_, _ = t.bot.Send(edit)

	if cq.Data == "" {
		return
	}

	t.bus.Publish(domain.NewInbound(
		"telegram",
		strconv.FormatInt(chatID, 10),
		strconv.FormatInt(cq.From.ID, 10),
		cq.Data,
	))
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// deliver splits long responses on Telegram's message length limit. Buttons
// attach to the final chunk so the keyboard appears under the full answer.
func (t *Telegram) deliver(chatID int64, text string, buttons [][]domain.Button) {
	chunks := splitMessage(text, telegramMaxMsgLen)
	for i, chunk := range chunks {
		var markup *tgbotapi.InlineKeyboardMarkup
		if i == len(chunks)-1 && len(buttons) > 0 {
			m := keyboardFor(buttons)
			markup = &m
		}
		t.sendChunk(chatID, chunk, markup)
	}
}

// splitMessage cuts text into chunks of at most maxLen, preferring to break
// on a newline in the second half of the chunk.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxLen {
			cutAt := strings.LastIndex(chunk[:maxLen], "\n")
			if cutAt < maxLen/2 {
				cutAt = maxLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// keyboardFor renders button rows as a Telegram inline keyboard.
func keyboardFor(buttons [][]domain.Button) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, row := range buttons {
		r := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			r = append(r, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		rows = append(rows, r)
	}
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// sendChunk sends one message. Rate limits back off and retry; a parse
// error falls back to plain text once; anything else is logged and the
// chunk is abandoned rather than retried.
func (t *Telegram) sendChunk(chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) {
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}
		if markup != nil {
			msg.ReplyMarkup = *markup
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		// Markdown parse error: resend once as plain text.
		if attempt == 0 && msg.ParseMode != "" && strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text", "err", err)
			plainMsg := tgbotapi.NewMessage(chatID, text)
			if markup != nil {
				plainMsg.ReplyMarkup = *markup
			}
			if _, err2 := t.bot.Send(plainMsg); err2 == nil {
				return
			}
			err = fmt.Errorf("plain text fallback also failed")
		}

		// Delivery failures are not worth re-running the exchange for;
		// log once and move on.
		t.logger.Error("telegram send failed", "err", err, "chat_id", chatID)
		return
	}

	t.logger.Error("telegram send failed after rate limit retries", "chat_id", chatID)
}
