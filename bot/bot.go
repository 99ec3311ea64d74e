package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/tntapple219/discord-ai-bot-template/bot.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	defaultLogWriter io.Writer = os.Stdout
)

var structValidator = validator.New()

//nolint:gochecknoinits
func init() {
	structValidator.SetTagName("binding")
}

// Bot is the main application struct, wiring configuration, the discord
// session, the completion client and conversation history together.
//
// All mutable state - the key pool, rotation cursor and history map - is
// explicit and process-scoped, owned by this struct rather than hidden
// in package-level globals.
type Bot struct {
	config *Config

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	// Handles discord integration, sessions
	discord *Discord

	// Handles completion requests and API key rotation
	openai *OpenAI

	// Per-user bounded conversation history
	history *History

	// userLocks serializes in-flight commands per user, so concurrent
	// requests from the same user can't interleave history appends
	userLocks  map[string]*sync.Mutex
	userLockMu sync.Mutex

	// signalStop enables an explicit stop signal to be sent to the bot
	signalStop chan struct{}

	// signalReady has a value sent on it when Run has opened the
	// discord session and registered the slash commands
	signalReady chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// The time Run was called
	startedAt time.Time

	chatCommandsInProgress  atomic.Int64
	resetCommandsInProgress atomic.Int64
}

// New creates a Bot from the given config, initializing loggers, the
// completion client and the discord integration.
func New(config *Config) (*Bot, error) {
	var errs []error

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	b := &Bot{
		config:      config,
		userLocks:   map[string]*sync.Mutex{},
		signalStop:  make(chan struct{}, 1),
		signalReady: make(chan struct{}, 1),
	}

	b.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     config.LogLevel,
			AddSource: true,
		},
	)
	b.logger = slog.New(b.logHandler)
	slog.SetDefault(b.logger)

	b.openai = newOpenAI(config.OpenAI, config.HTTPClient)
	if b.openai.pool.Len() == 0 {
		errs = append(errs, ErrNoAPIKeys)
	}

	b.history = NewHistory(
		config.Chat.MaxHistoryTurns,
		b.logger.With(loggerNameKey, "history"),
	)

	config.Discord.httpClient = config.HTTPClient
	disc := newDiscord(config.Discord)

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	disc.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord")

	b.discord = disc
	disc.bot = b

	return b, errors.Join(errs...)
}

func (b *Bot) ValidateConfig() error {
	return structValidator.Struct(b.config)
}

// RegisterSlashCommands registers the bot's slash commands via the
// discord bulk overwrite endpoint.
func (b *Bot) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	return b.discord.registerCommands(b.config.Chat, options...)
}

// Run opens the discord session, registers the slash commands, and
// blocks until the context is cancelled or Stop is called, then shuts
// down gracefully.
func (b *Bot) Run(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()

	if err := b.ValidateConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	b.startedAt = time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	session := b.discord.session
	if session == nil {
		var sessErr error
		session, sessErr = b.discord.newSession()
		if sessErr != nil {
			return sessErr
		}
		b.discord.session = session
	}

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startCancel()

	b.discord.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(b.discord.handlerReady()),
		session.AddHandler(b.discord.handlerConnect()),
		session.AddHandler(b.discord.handlerDisconnect()),
		session.AddHandler(b.handleInteractionCreate(ctx)),
	}

	openErr := make(chan error, 1)
	go func() {
		openErr <- session.Open()
	}()
	var err error
	select {
	case err = <-openErr:
		if err != nil {
			return fmt.Errorf("error opening discord session: %w", err)
		}
	case <-startCtx.Done():
		return fmt.Errorf("startup timed out: %w", startCtx.Err())
	}

	if _, err = b.RegisterSlashCommands(
		discordgo.WithContext(startCtx),
	); err != nil {
		_ = session.Close()
		return fmt.Errorf("error registering slash commands: %w", err)
	}

	b.logger.Info(
		"bot ready",
		"version", Version,
		"model", b.config.OpenAI.Model,
		"api_keys", b.openai.pool.Len(),
		"max_history_turns", b.config.Chat.MaxHistoryTurns,
	)

	select {
	case b.signalReady <- struct{}{}:
	default:
	}

	select {
	case <-ctx.Done():
		b.logger.Warn("context canceled, shutting down")
	case <-b.signalStop:
		b.logger.Warn("stop signal received, shutting down")
	}

	return b.shutdown()
}

// Stop signals a running bot to shut down.
func (b *Bot) Stop() {
	select {
	case b.signalStop <- struct{}{}:
	default:
	}
}

func (b *Bot) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		b.config.ShutdownTimeout,
	)
	defer cancel()

	for _, removeHandler := range b.discord.discordgoRemoveHandlerFuncs {
		removeHandler()
	}

	closed := make(chan error, 1)
	go func() {
		closed <- b.discord.session.Close()
	}()

	select {
	case err := <-closed:
		if err != nil {
			b.logger.Error("error closing discord session", tint.Err(err))
			return err
		}
		b.logger.Info(
			"shutdown complete",
			"uptime", time.Since(b.startedAt),
			"connected", b.discord.connected.Load(),
			"gateway_connects", b.discord.metricConnects.Load(),
			"gateway_disconnects", b.discord.metricDisconnects.Load(),
			"chat_commands_in_progress", b.chatCommandsInProgress.Load(),
			"reset_commands_in_progress", b.resetCommandsInProgress.Load(),
		)
		return nil
	case <-shutdownCtx.Done():
		return fmt.Errorf("shutdown timed out: %w", shutdownCtx.Err())
	}
}

// lockUser acquires the given user's command lock, creating it on first
// use, and returns the unlock func.
func (b *Bot) lockUser(userID string) func() {
	b.userLockMu.Lock()
	mu := b.userLocks[userID]
	if mu == nil {
		mu = &sync.Mutex{}
		b.userLocks[userID] = mu
	}
	b.userLockMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// handleInteractionCreate returns the discordgo gateway handler for
// incoming interactions. Each interaction is handled in its own
// goroutine so slow completion calls don't block the event loop.
func (b *Bot) handleInteractionCreate(ctx context.Context) func(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	return func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		handler := GatewayHandler{
			session:     b.discord.session,
			interaction: i,
			logger:      b.discord.logger,
		}
		go b.handleInteraction(ctx, handler)
	}
}

// handleInteraction dispatches an incoming interaction to the
// appropriate command.
func (b *Bot) handleInteraction(
	ctx context.Context,
	handler InteractionHandler,
) {
	defer b.handleRecover(ctx)

	i := handler.GetInteraction()
	logger := handler.Logger().With(
		slog.Group("interaction", interactionLogAttrs(*i)...),
	)
	ctx = WithLogger(ctx, logger)

	switch i.Type {
	case discordgo.InteractionPing:
		_ = handler.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponsePong,
			},
		)
	case discordgo.InteractionApplicationCommand:
		discordUser := getDiscordUser(i)
		if discordUser == nil {
			logger.ErrorContext(
				ctx,
				"no user found in interaction",
				"interaction", structToSlogValue(i),
			)
			return
		}
		if discordUser.Bot {
			logger.WarnContext(ctx, "user is bot, ignoring", "user_id", discordUser.ID)
			return
		}

		logger = logger.With(
			slog.Group(
				"user",
				"id", discordUser.ID,
				"username", discordUser.Username,
			),
		)
		ctx = WithLogger(ctx, logger)
		logger.InfoContext(ctx, "received new interaction")

		commandName := i.ApplicationCommandData().Name
		if ackErr := handler.Respond(
			ctx,
			b.discord.ackResponse(commandName),
		); ackErr != nil {
			logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(ackErr))
			return
		}

		switch commandName {
		case DiscordSlashCommandChat:
			chatCommand, cmdErr := NewChatCommand(discordUser, i)
			if cmdErr != nil {
				logger.ErrorContext(ctx, "error creating chat command", tint.Err(cmdErr))
				if editErr := handler.Edit(
					ctx,
					&discordgo.WebhookEdit{Content: &b.config.Chat.ErrorMessage},
				); editErr != nil {
					logger.ErrorContext(
						ctx,
						"error updating interaction",
						tint.Err(editErr),
					)
				}
				return
			}
			chatCommand.handler = handler
			chatCommand.logger = logger.With("chat_command", chatCommand)
			_ = chatCommand.execute(ctx, b)
		case DiscordSlashCommandReset:
			resetCommand := NewResetCommand(discordUser, i)
			resetCommand.handler = handler
			resetCommand.logger = logger.With("reset_command", resetCommand)
			_ = resetCommand.execute(ctx, b)
		default:
			logger.WarnContext(ctx, "unknown command", "command", commandName)
		}
	}
}

func (b *Bot) handleRecover(ctx context.Context) {
	if rc := recover(); rc != nil {
		logger, ok := ContextLogger(ctx)
		if logger == nil || !ok {
			logger = b.logger
		}
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			"panic", rc,
			"stack", string(debug.Stack()),
		)
	}
}
