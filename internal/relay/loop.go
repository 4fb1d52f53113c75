// Package relay is the core engine: it consumes inbound chat messages,
// walks each user through registration and the three analysis stages, and
// relays conversation text to the configured model provider.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mootbot/internal/domain"
	"mootbot/internal/mail"
	"mootbot/internal/metrics"
	"mootbot/internal/prompts"
	"mootbot/internal/provider"
)

const (
	defaultConcurrency  = 3
	defaultHistoryLimit = 50
	defaultRateBurst    = 5
	defaultRatePerMin   = 30.0

	apologyText = "Sorry, there was an error processing your request. Please try again."
)

// Loop is the relay engine. One Loop serves all channels.
type Loop struct {
	provider     domain.Provider
	store        domain.UserStore
	mailer       mail.Mailer
	prompts      *prompts.Set
	bus          domain.MessageBus
	logger       *slog.Logger
	concurrency  int
	historyLimit int
	retry        provider.RetryPolicy
	rateLimiter  *RateLimiter

	registrationEnabled bool
	allowedDomains      []string
}

// LoopConfig holds all dependencies and tuning parameters for the relay loop.
type LoopConfig struct {
	Provider     domain.Provider
	Store        domain.UserStore
	Mailer       mail.Mailer // required only when RegistrationEnabled
	Prompts      *prompts.Set
	Bus          domain.MessageBus
	Logger       *slog.Logger
	Concurrency  int
	HistoryLimit int
	Retry        provider.RetryPolicy
	RateBurst    int
	RatePerMin   float64

	RegistrationEnabled bool
	AllowedDomains      []string
}

// NewLoop creates a relay loop with the given configuration.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.BaseDelay == 0 {
		cfg.Retry = provider.DefaultRetryPolicy()
	}
	if cfg.Prompts == nil {
		cfg.Prompts = prompts.Default()
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.RatePerMin <= 0 {
		cfg.RatePerMin = defaultRatePerMin
	}
	return &Loop{
		provider:            cfg.Provider,
		store:               cfg.Store,
		mailer:              cfg.Mailer,
		prompts:             cfg.Prompts,
		bus:                 cfg.Bus,
		logger:              cfg.Logger,
		concurrency:         cfg.Concurrency,
		historyLimit:        cfg.HistoryLimit,
		retry:               cfg.Retry,
		rateLimiter:         NewRateLimiter(cfg.RateBurst, cfg.RatePerMin),
		registrationEnabled: cfg.RegistrationEnabled,
		allowedDomains:      cfg.AllowedDomains,
	}
}

// Run consumes inbound messages and processes them with bounded concurrency.
// It returns when ctx is cancelled or the bus closes.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("relay loop started", "concurrency", l.concurrency)

	sem := make(chan struct{}, l.concurrency)
	inbound := l.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("relay loop stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, relay loop stopping")
				return
			}
			sem <- struct{}{}
			go func(m domain.InboundMessage) {
				defer func() { <-sem }()
				l.processMessage(ctx, m)
			}(msg)
		}
	}
}

// ProcessDirect processes a message synchronously and returns the response
// text. Used by the CLI channel and the one-shot chat command.
func (l *Loop) ProcessDirect(ctx context.Context, content, channel, chatID string) (string, error) {
	msg := domain.NewInbound(channel, chatID, chatID, content)
	reply := l.handleMessage(ctx, msg)
	return reply.text, nil
}

// reply is the single outbound response produced for one inbound message.
type reply struct {
	text    string
	buttons [][]domain.Button
}

// processMessage handles one inbound message and sends at most one response
// back through the bus. Empty messages are dropped without a model call or
// a response.
func (l *Loop) processMessage(ctx context.Context, msg domain.InboundMessage) {
	metrics.ActiveExchanges.Inc()
	defer metrics.ActiveExchanges.Dec()

	if strings.TrimSpace(msg.Content) == "" {
		metrics.MessagesDropped.Inc()
		l.logger.Debug("dropping empty message", "id", msg.ID, "channel", msg.Channel)
		return
	}

	metrics.MessagesTotal.Inc()
	l.logger.Info("processing message",
		"id", msg.ID,
		"channel", msg.Channel,
		"sender", msg.SenderID,
		"content_len", len(msg.Content),
	)

	r := l.handleMessage(ctx, msg)
	if r.text == "" {
		return
	}

	l.bus.SendOutbound(domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: r.text,
		ReplyTo: msg.ID,
		Buttons: r.buttons,
	})
}

// handleMessage dispatches on command, then on the user's state. Internal
// failures surface as the apology text so the sender gets exactly one
// answer; a cancelled exchange yields an empty reply that is not sent.
func (l *Loop) handleMessage(ctx context.Context, msg domain.InboundMessage) reply {
	content := strings.TrimSpace(msg.Content)

	user, err := l.ensureUser(ctx, msg)
	if err != nil {
		l.logger.Error("user lookup failed", "error", err, "sender", msg.SenderID)
		return reply{text: apologyText}
	}

	if strings.HasPrefix(content, "/") {
		return l.handleCommand(ctx, user, content)
	}

	return l.handleByState(ctx, user, content)
}

// ensureUser loads the sender's record, creating one on first contact. With
// registration disabled new users are verified immediately.
func (l *Loop) ensureUser(ctx context.Context, msg domain.InboundMessage) (*domain.User, error) {
	key := fmt.Sprintf("%s:%s", msg.Channel, msg.SenderID)
	user, err := l.store.GetUser(ctx, key)
	if err != nil {
		return nil, err
	}
	if user != nil {
		// Chat may move (e.g. group to private); track the latest.
		if user.ChatID != msg.ChatID {
			user.ChatID = msg.ChatID
			if err := l.store.UpdateUser(ctx, *user); err != nil {
				l.logger.Warn("failed to update chat id", "error", err)
			}
		}
		return user, nil
	}

	state := domain.StateStarted
	if !l.registrationEnabled {
		state = domain.StateVerified
	}
	u := domain.User{
		Key:       key,
		ChatID:    msg.ChatID,
		State:     state,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := l.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	l.logger.Info("new user", "key", key, "state", state)
	return &u, nil
}

// handleCommand dispatches slash commands. Button callbacks arrive as
// commands too, so this covers both typed commands and keyboard presses.
func (l *Loop) handleCommand(ctx context.Context, user *domain.User, content string) reply {
	cmd := strings.ToLower(strings.Fields(content)[0])
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i] // strip bot mention suffix ("/start@SomeBot")
	}

	switch cmd {
	case "/start":
		return l.cmdStart(ctx, user)
	case "/help":
		return l.cmdHelp()
	case "/menu":
		return l.cmdMenu(user)
	case "/delete":
		return l.cmdDelete(ctx, user)
	case "/register":
		return l.startRegistration(ctx, user)
	case "/cancel":
		return l.cancelRegistration(ctx, user)
	case "/resend":
		return l.resendVerification(ctx, user)
	case "/stage1":
		return l.startStageOne(ctx, user)
	case "/stage2":
		return l.startStageTwo(ctx, user)
	case "/stage3":
		return l.startStageThree(ctx, user)
	default:
		return reply{text: "Unknown command. Use /help to see what I can do."}
	}
}

// handleByState routes plain text through the state machine.
func (l *Loop) handleByState(ctx context.Context, user *domain.User, content string) reply {
	switch user.State {
	case domain.StateStarted:
		return reply{
			text:    "Welcome! You need to register before using the bot. Please press the button below to register.",
			buttons: registerButtons(),
		}
	case domain.StateAwaitingEmail:
		return l.receiveEmail(ctx, user, content)
	case domain.StateAwaitingCode:
		return l.verifyCode(ctx, user, content)
	case domain.StateVerified:
		return l.converse(ctx, user, domain.StateVerified, content)
	case domain.StateAwaitingCase:
		return l.receiveCase(ctx, user, content)
	case domain.StateStageOne:
		return l.converse(ctx, user, domain.StateStageOne, content)
	case domain.StateAwaitingIssues:
		return l.receiveIssues(ctx, user, content)
	case domain.StateStageTwo:
		return l.converse(ctx, user, domain.StateStageTwo, content)
	case domain.StateAwaitingAspects:
		return l.receiveAspects(ctx, user, content)
	case domain.StateStageThree:
		return l.converse(ctx, user, domain.StateStageThree, content)
	default:
		l.logger.Warn("unknown user state", "key", user.Key, "state", user.State)
		return reply{text: "Sorry, I encountered an unexpected state. Please use /start to reset."}
	}
}

func (l *Loop) cmdStart(ctx context.Context, user *domain.User) reply {
	switch user.State {
	case domain.StateStarted:
		if !l.registrationEnabled {
			return l.autoVerify(ctx, user)
		}
		return reply{
			text:    "Welcome! You need to register before using the bot. Please press the button below to register.",
			buttons: registerButtons(),
		}
	case domain.StateAwaitingEmail:
		return reply{
			text:    fmt.Sprintf("Please enter your email address. It should belong to one of: %s.", strings.Join(l.allowedDomains, ", ")),
			buttons: cancelButtons(),
		}
	case domain.StateAwaitingCode:
		return reply{
			text:    "Please enter the verification code sent to your email, or press below to resend the code.",
			buttons: resendCancelButtons(),
		}
	default:
		return reply{text: "You are verified and can use the bot. Send me a message, or use /menu to work on a case analysis."}
	}
}

// autoVerify moves a fresh user straight to verified when registration is off.
func (l *Loop) autoVerify(ctx context.Context, user *domain.User) reply {
	user.State = domain.StateVerified
	if err := l.store.UpdateUser(ctx, *user); err != nil {
		l.logger.Error("auto-verify failed", "error", err)
		return reply{text: apologyText}
	}
	return reply{text: "Welcome! Send me a message and I will answer, or use /menu to start a case analysis."}
}

func (l *Loop) cmdHelp() reply {
	return reply{text: strings.Join([]string{
		"Here is what I can do:",
		"/start - begin, or show where you are",
		"/menu - choose an analysis stage",
		"/stage1 - submit a case and identify its issues",
		"/stage2 - work out aspects of legality and proportionality",
		"/stage3 - argue your conclusions",
		"/delete - erase your data",
		"/help - this message",
	}, "\n")}
}

// cmdMenu shows the stage menu. Stages unlock in order, matching how far
// the user has progressed.
func (l *Loop) cmdMenu(user *domain.User) reply {
	if !user.State.Registered() {
		return reply{text: "Please complete your registration first."}
	}

	buttons := [][]domain.Button{
		{{Label: "Start Stage 1", Data: "/stage1"}},
	}
	switch user.State {
	case domain.StateStageOne:
		buttons = append(buttons, []domain.Button{{Label: "Proceed to Stage 2", Data: "/stage2"}})
	case domain.StateStageTwo, domain.StateStageThree:
		buttons = append(buttons,
			[]domain.Button{{Label: "Proceed to Stage 2", Data: "/stage2"}},
			[]domain.Button{{Label: "Proceed to Stage 3", Data: "/stage3"}},
		)
	}

	return reply{text: "Please choose an option:", buttons: buttons}
}

func (l *Loop) cmdDelete(ctx context.Context, user *domain.User) reply {
	if err := l.store.DeleteUser(ctx, user.Key); err != nil {
		l.logger.Error("delete user failed", "error", err, "key", user.Key)
		return reply{text: apologyText}
	}
	return reply{text: "Your data has been deleted. To start again, use the /start command."}
}

// converse relays one conversation turn to the model and persists both
// sides of the exchange. stage selects the system prompt and which stored
// history thread the turn belongs to.
func (l *Loop) converse(ctx context.Context, user *domain.User, stage domain.State, content string) reply {
	history, err := l.store.GetMessages(ctx, user.Key, stage, l.historyLimit)
	if err != nil {
		l.logger.Warn("failed to load history, continuing without it", "error", err)
		history = nil
	}

	messages := l.buildMessages(user, stage, history, content)

	if err := l.rateLimiter.Wait(ctx); err != nil {
		// Wait only fails when ctx ends; the exchange is abandoned, not failed.
		l.logger.Info("exchange abandoned before model call", "error", err, "key", user.Key)
		return reply{}
	}

	metrics.ModelRequests.Inc()
	start := time.Now()
	resp, err := provider.CompleteWithRetry(ctx, l.provider, domain.CompletionRequest{
		Messages: messages,
	}, l.retry, l.logger)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			l.logger.Info("exchange abandoned mid-request", "error", err, "key", user.Key, "stage", stage)
			return reply{}
		}
		metrics.ModelFailures.Inc()
		l.logger.Error("model request failed", "error", err, "key", user.Key, "stage", stage)
		return reply{text: apologyText}
	}

	l.logger.Info("model response",
		"key", user.Key,
		"stage", stage,
		"latency", time.Since(start),
		"tokens", resp.Usage.TotalTokens,
	)

	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		l.logger.Warn("empty model response", "key", user.Key, "stage", stage)
		return reply{text: apologyText}
	}

	l.saveTurn(ctx, user.Key, stage, content, answer)
	return reply{text: answer}
}

func (l *Loop) saveTurn(ctx context.Context, userKey string, stage domain.State, question, answer string) {
	if err := l.store.AddMessage(ctx, domain.MessageRecord{
		UserKey: userKey, Stage: stage, Role: "user", Content: question,
	}); err != nil {
		l.logger.Warn("failed to save user message", "error", err)
	}
	if err := l.store.AddMessage(ctx, domain.MessageRecord{
		UserKey: userKey, Stage: stage, Role: "assistant", Content: answer,
	}); err != nil {
		l.logger.Warn("failed to save assistant message", "error", err)
	}
}

func registerButtons() [][]domain.Button {
	return [][]domain.Button{{{Label: "Register", Data: "/register"}}}
}

func cancelButtons() [][]domain.Button {
	return [][]domain.Button{{{Label: "Cancel", Data: "/cancel"}}}
}

func resendCancelButtons() [][]domain.Button {
	return [][]domain.Button{
		{{Label: "Resend verification email", Data: "/resend"}},
		{{Label: "Cancel", Data: "/cancel"}},
	}
}
