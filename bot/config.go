//nolint:lll // struct tags can't be split
package bot

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	EnvvarSetEnvPrefix = "DISCORD_AI_BOT_ENV_PREFIX"
	DefaultEnvPrefix   = "DAB"

	DefaultLogLevel        = slog.LevelInfo
	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	DiscordSlashCommandChat  = "chat"
	DiscordSlashCommandReset = "reset"

	DefaultDiscordChatCommandDescription       = "Ask the AI a question!"
	DefaultDiscordChatCommandOptionDescription = "What would you like to say or ask?"
	DefaultDiscordResetCommandDescription      = "Clear your conversation history with me"
	DefaultDiscordCustomStatus                 = "/chat with me!"
	DefaultDiscordErrorMessage                 = "sorry, something went wrong!"
	DefaultDiscordExhaustedMessage             = "I couldn't reach the AI with any of my keys - please try again later!"
	DefaultDiscordLogLevel                     = slog.LevelWarn
	DefaultDiscordgoLogLevel                   = slog.LevelWarn
	DefaultDiscordGatewayIntent                = discordgo.IntentsAllWithoutPrivileged
	DefaultDiscordChatCommandMaxLength         = 0
	discordMaxMessageLength                    = 2000

	DefaultOpenAIModel                = "google/gemma-3-27b-it:free"
	DefaultOpenAIBaseURL              = "https://openrouter.ai/api/v1"
	DefaultOpenAILogLevel             = slog.LevelInfo
	DefaultOpenAIMaxRequestsPerSecond = 1
	DefaultOpenAIRequestTimeout       = 2 * time.Minute

	DefaultMaxHistoryTurns = 20
)

// Config is the top-level bot configuration, loaded once at startup.
type Config struct {
	// Discord configures the discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// OpenAI configures the chat-completion API integration, including
	// the API key pool used for rotation
	OpenAI *OpenAIConfig `yaml:"openai" mapstructure:"openai" json:"openai"`

	// Chat configures conversation history and user-facing messages
	Chat *ChatConfig `yaml:"chat" mapstructure:"chat" json:"chat"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// open its discord session and register commands. If this is passed,
	// the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After
	// this elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// CustomStatus is set as the bot user's status when it connects
	// to the discord gateway
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	httpClient *http.Client
}

// OpenAIConfig configures the chat-completion API integration and the
// API key pool.
//
//nolint:lll // can't break tags
type OpenAIConfig struct {
	// APIKeys is a comma-separated, ordered list of API keys. On a
	// key-related failure, the bot rotates to the next key in the list.
	APIKeys string `yaml:"api_keys" mapstructure:"api_keys" json:"api_keys" log:"[redacted]" binding:"required"`

	// Model is the model name sent with each completion request
	Model string `yaml:"model" mapstructure:"model" json:"model" binding:"required"`

	// BaseURL is the base URL of the OpenAI-compatible API
	// (ex: OpenRouter's endpoint)
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"required,url"`

	// SystemPrompt is prepended to every request's message sequence
	SystemPrompt string `yaml:"system_prompt" mapstructure:"system_prompt" json:"system_prompt" binding:"required"`

	// MaxRequestsPerSecond limits outbound completion requests.
	// 0=unlimited
	MaxRequestsPerSecond int `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second" binding:"min=0"`

	// RequestTimeout is the per-attempt timeout for a completion request.
	// 0=no timeout beyond the interaction's own deadline
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" json:"request_timeout" binding:"min=0"`

	// OpenAI base log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// Keys returns the ordered API key pool parsed from the comma-separated
// APIKeys value. Empty entries and surrounding whitespace are dropped.
func (c OpenAIConfig) Keys() []string {
	var keys []string
	for _, k := range strings.Split(c.APIKeys, ",") {
		k = strings.TrimSpace(k)
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// ChatConfig configures conversation history and the user-facing
// responses for the /chat command.
//
//nolint:lll // can't break tags
type ChatConfig struct {
	// MaxHistoryTurns caps the number of retained turns (user and
	// assistant messages, excluding the system prompt) per user.
	// The oldest turns are evicted first.
	MaxHistoryTurns int `yaml:"max_history_turns" mapstructure:"max_history_turns" json:"max_history_turns" binding:"required,min=1"`

	// ChatCommandMaxLength limits the length of the /chat prompt option.
	// 0=discord's own limit
	ChatCommandMaxLength int `yaml:"chat_command_max_length" mapstructure:"chat_command_max_length" json:"chat_command_max_length" binding:"min=0"`

	// ErrorMessage is sent to the user when a request fails for a
	// reason other than key exhaustion
	ErrorMessage string `yaml:"error_message" mapstructure:"error_message" json:"error_message"`

	// ExhaustedMessage is sent to the user when every key in the pool
	// has failed for their request
	ExhaustedMessage string `yaml:"exhausted_message" mapstructure:"exhausted_message" json:"exhausted_message"`
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	openaiLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	openaiLogLevel.Set(DefaultOpenAILogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)

	return &Config{
		LogLevel:        mainLogLevel,
		StartupTimeout:  DefaultStartupTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			CustomStatus:      DefaultDiscordCustomStatus,
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
		},
		OpenAI: &OpenAIConfig{
			Model:                DefaultOpenAIModel,
			BaseURL:              DefaultOpenAIBaseURL,
			MaxRequestsPerSecond: DefaultOpenAIMaxRequestsPerSecond,
			RequestTimeout:       DefaultOpenAIRequestTimeout,
			LogLevel:             openaiLogLevel,
		},
		Chat: &ChatConfig{
			MaxHistoryTurns:  DefaultMaxHistoryTurns,
			ErrorMessage:     DefaultDiscordErrorMessage,
			ExhaustedMessage: DefaultDiscordExhaustedMessage,
		},
	}
}
