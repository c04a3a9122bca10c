// Package channel implements the Telegram Bot API transport.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"assistbot/internal/domain"
)

const (
	defaultPollTimeout   = 30 * time.Second
	defaultMaxConcurrent = 16
	minRetryDelay        = time.Second
	maxRetryDelay        = time.Minute
)

// TelegramOption configures the Telegram channel.
type TelegramOption func(*TelegramChannel)

// WithTelegramBaseURL overrides the Bot API endpoint.
func WithTelegramBaseURL(u string) TelegramOption {
	return func(t *TelegramChannel) {
		if u != "" {
			t.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithTelegramPollTimeout sets the getUpdates long-poll timeout.
func WithTelegramPollTimeout(d time.Duration) TelegramOption {
	return func(t *TelegramChannel) {
		if d > 0 {
			t.pollTimeout = d
		}
	}
}

// WithTelegramMaxConcurrent bounds the number of updates handled at once.
func WithTelegramMaxConcurrent(n int) TelegramOption {
	return func(t *TelegramChannel) {
		if n > 0 {
			t.maxConcurrent = n
		}
	}
}

// WithTelegramRetryDelay sets the initial backoff after a failed poll.
func WithTelegramRetryDelay(d time.Duration) TelegramOption {
	return func(t *TelegramChannel) {
		if d > 0 {
			t.retryDelay = d
		}
	}
}

// TelegramChannel implements domain.Channel for the Telegram Bot API via
// long-polling. Each update is handled on its own goroutine so a slow
// search never blocks other chats.
type TelegramChannel struct {
	token         string
	handler       domain.MessageHandler
	logger        *slog.Logger
	client        *http.Client
	baseURL       string
	pollTimeout   time.Duration
	retryDelay    time.Duration
	maxConcurrent int
	offset        int64
	botUsername   string

	// handlerCtx outlives the Start context so replies in flight at shutdown
	// can still be sent; Stop cancels it when its own deadline expires.
	handlerCtx    context.Context
	handlerCancel context.CancelFunc

	sem      chan struct{}
	inflight sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewTelegramChannel creates a Telegram bot channel.
func NewTelegramChannel(token string, logger *slog.Logger, opts ...TelegramOption) *TelegramChannel {
	t := &TelegramChannel{
		token:         token,
		logger:        logger,
		baseURL:       "https://api.telegram.org",
		pollTimeout:   defaultPollTimeout,
		retryDelay:    minRetryDelay,
		maxConcurrent: defaultMaxConcurrent,
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	t.client = &http.Client{Timeout: t.pollTimeout + 30*time.Second}
	t.sem = make(chan struct{}, t.maxConcurrent)
	return t
}

// Identify calls getMe and remembers the bot username.
func (t *TelegramChannel) Identify(ctx context.Context) (string, error) {
	me, err := t.getMe(ctx)
	if err != nil {
		return "", err
	}
	t.botUsername = me
	t.logger.Info("telegram bot identified", "username", me)
	return me, nil
}

// BotUsername returns the username found by Identify, if any.
func (t *TelegramChannel) BotUsername() string { return t.botUsername }

// Start begins long-polling for updates. Non-blocking (starts in goroutine).
func (t *TelegramChannel) Start(ctx context.Context, handler domain.MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("telegram: nil handler")
	}
	t.handler = handler
	t.handlerCtx, t.handlerCancel = context.WithCancel(context.WithoutCancel(ctx))

	go t.pollLoop(ctx)
	t.logger.Info("telegram channel started", "max_concurrent", t.maxConcurrent)
	return nil
}

// Stop signals the polling loop to stop and waits for in-flight handlers
// until ctx expires, at which point the handlers are cancelled.
func (t *TelegramChannel) Stop(ctx context.Context) error {
	started := t.handler != nil
	t.stopOnce.Do(func() { close(t.done) })
	if !started {
		return nil
	}

	waited := make(chan struct{})
	go func() {
		<-t.stopped
		t.inflight.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		t.handlerCancel()
		return nil
	case <-ctx.Done():
		t.handlerCancel()
		return fmt.Errorf("telegram stop: %w", ctx.Err())
	}
}

// Send sends a reply to a Telegram chat. If Telegram rejects the Markdown
// entities the message is resent once as plain text.
func (t *TelegramChannel) Send(ctx context.Context, msg domain.OutboundMessage) error {
	err := t.sendMessage(ctx, msg)
	if err != nil && msg.ParseMode != domain.ParseModeNone && isEntityParseError(err) {
		t.logger.Warn("telegram rejected markup, resending as plain text", "chat_id", msg.ChatID, "error", err)
		msg.ParseMode = domain.ParseModeNone
		err = t.sendMessage(ctx, msg)
	}
	return err
}

// Name implements domain.Channel.
func (t *TelegramChannel) Name() string { return "telegram" }

func (t *TelegramChannel) pollLoop(ctx context.Context) {
	defer close(t.stopped)

	// Stop interrupts a pending long poll.
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-pollCtx.Done():
		}
	}()

	delay := t.retryDelay
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		updates, err := t.getUpdates(pollCtx)
		if err != nil {
			if pollCtx.Err() != nil {
				return
			}
			t.logger.Warn("telegram getUpdates failed", "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return
			case <-t.done:
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, maxRetryDelay)
			continue
		}
		delay = t.retryDelay

		// The offset only moves past updates that were handed to a handler,
		// so a shutdown mid-batch leaves the rest for the next run.
		for _, u := range updates {
			if msg, ok := toInbound(u); ok && !t.dispatch(ctx, msg) {
				return
			}
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
		}
	}
}

// dispatch runs the handler for msg once a concurrency slot is free. It
// reports false if the channel is shutting down.
func (t *TelegramChannel) dispatch(ctx context.Context, msg domain.InboundMessage) bool {
	select {
	case t.sem <- struct{}{}:
	case <-ctx.Done():
		return false
	case <-t.done:
		return false
	}

	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		defer func() { <-t.sem }()
		if err := t.handler(t.handlerCtx, msg); err != nil {
			t.logger.Error("telegram handler error", "error", err, "chat_id", msg.ChatID)
		}
	}()
	return true
}

// toInbound extracts a text message from an update. Non-text updates
// (stickers, photos, edits) are skipped.
func toInbound(u telegramUpdate) (domain.InboundMessage, bool) {
	if u.Message == nil || u.Message.Text == "" {
		return domain.InboundMessage{}, false
	}
	m := u.Message
	msg := domain.InboundMessage{
		ChatID:      strconv.FormatInt(m.Chat.ID, 10),
		Text:        m.Text,
		ChannelName: "telegram",
		MessageID:   strconv.FormatInt(m.MessageID, 10),
	}
	if m.From != nil {
		msg.SenderID = strconv.FormatInt(m.From.ID, 10)
		name := m.From.FirstName
		if m.From.LastName != "" {
			name += " " + m.From.LastName
		}
		msg.SenderName = name
	}
	return msg, true
}

// --- Telegram Bot API types ---

type telegramUser struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type telegramUpdate struct {
	UpdateID int64            `json:"update_id"`
	Message  *telegramMessage `json:"message"`
}

type telegramMessage struct {
	MessageID int64         `json:"message_id"`
	From      *telegramUser `json:"from,omitempty"`
	Chat      telegramChat  `json:"chat"`
	Text      string        `json:"text"`
}

type telegramChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type telegramUpdateResponse struct {
	OK          bool             `json:"ok"`
	Result      []telegramUpdate `json:"result"`
	Description string           `json:"description"`
}

type telegramKeyboardButton struct {
	Text string `json:"text"`
}

type telegramReplyKeyboard struct {
	Keyboard       [][]telegramKeyboardButton `json:"keyboard"`
	ResizeKeyboard bool                       `json:"resize_keyboard"`
}

type telegramSendRequest struct {
	ChatID                string                 `json:"chat_id"`
	Text                  string                 `json:"text"`
	ParseMode             string                 `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool                   `json:"disable_web_page_preview,omitempty"`
	ReplyToMsgID          int64                  `json:"reply_to_message_id,omitempty"`
	AllowWithoutReply     bool                   `json:"allow_sending_without_reply,omitempty"`
	ReplyMarkup           *telegramReplyKeyboard `json:"reply_markup,omitempty"`
}

type telegramSendResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

type telegramGetMeResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		Username string `json:"username"`
	} `json:"result"`
}

// apiError is a non-OK answer from the Bot API.
type apiError struct {
	Method      string
	Status      int
	Description string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("telegram %s error %d: %s", e.Method, e.Status, e.Description)
}

func isEntityParseError(err error) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.Status == http.StatusBadRequest &&
		strings.Contains(strings.ToLower(ae.Description), "can't parse entities")
}

func newKeyboard(rows [][]string) *telegramReplyKeyboard {
	if len(rows) == 0 {
		return nil
	}
	kb := &telegramReplyKeyboard{ResizeKeyboard: true}
	for _, row := range rows {
		buttons := make([]telegramKeyboardButton, len(row))
		for i, label := range row {
			buttons[i] = telegramKeyboardButton{Text: label}
		}
		kb.Keyboard = append(kb.Keyboard, buttons)
	}
	return kb
}

func (t *TelegramChannel) getMe(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/bot%s/getMe", t.baseURL, t.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1*1024*1024))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var result telegramGetMeResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("unmarshal: %w", err)
	}

	if !result.OK || result.Result.Username == "" {
		return "", fmt.Errorf("getMe returned ok=%v username=%q", result.OK, result.Result.Username)
	}

	return result.Result.Username, nil
}

func (t *TelegramChannel) getUpdates(ctx context.Context) ([]telegramUpdate, error) {
	url := fmt.Sprintf("%s/bot%s/getUpdates?offset=%d&timeout=%d&allowed_updates=%%5B%%22message%%22%%5D",
		t.baseURL, t.token, t.offset, int(t.pollTimeout.Seconds()))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &apiError{Method: "getUpdates", Status: resp.StatusCode, Description: string(body)}
	}

	var result telegramUpdateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if !result.OK {
		return nil, &apiError{Method: "getUpdates", Status: resp.StatusCode, Description: result.Description}
	}

	return result.Result, nil
}

func (t *TelegramChannel) sendMessage(ctx context.Context, msg domain.OutboundMessage) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)

	sendReq := telegramSendRequest{
		ChatID:                msg.ChatID,
		Text:                  msg.Text,
		ParseMode:             msg.ParseMode,
		DisableWebPagePreview: msg.DisablePreview,
		ReplyMarkup:           newKeyboard(msg.Keyboard),
	}
	if msg.ReplyToID != "" {
		if rid, err := strconv.ParseInt(msg.ReplyToID, 10, 64); err == nil {
			sendReq.ReplyToMsgID = rid
			sendReq.AllowWithoutReply = true
		}
	}

	payload, err := json.Marshal(sendReq)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1*1024*1024))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		desc := string(body)
		var sr telegramSendResponse
		if json.Unmarshal(body, &sr) == nil && sr.Description != "" {
			desc = sr.Description
		}
		return &apiError{Method: "sendMessage", Status: resp.StatusCode, Description: desc}
	}

	return nil
}
