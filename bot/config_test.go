package bot

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NotNil(t, config.Discord)
	require.NotNil(t, config.OpenAI)
	require.NotNil(t, config.Chat)

	assert.Equal(t, DefaultLogLevel, config.LogLevel.Level())
	assert.Equal(t, DefaultStartupTimeout, config.StartupTimeout)
	assert.Equal(t, DefaultShutdownTimeout, config.ShutdownTimeout)

	assert.Equal(t, DefaultDiscordCustomStatus, config.Discord.CustomStatus)
	assert.Equal(t, DefaultDiscordGatewayIntent, config.Discord.GatewayIntents)
	assert.Equal(t, DefaultDiscordLogLevel, config.Discord.LogLevel.Level())
	assert.Equal(
		t,
		DefaultDiscordgoLogLevel,
		config.Discord.DiscordGoLogLevel.Level(),
	)

	assert.Equal(t, DefaultOpenAIModel, config.OpenAI.Model)
	assert.Equal(t, DefaultOpenAIBaseURL, config.OpenAI.BaseURL)
	assert.Equal(
		t,
		DefaultOpenAIMaxRequestsPerSecond,
		config.OpenAI.MaxRequestsPerSecond,
	)
	assert.Equal(t, DefaultOpenAIRequestTimeout, config.OpenAI.RequestTimeout)

	assert.Equal(t, DefaultMaxHistoryTurns, config.Chat.MaxHistoryTurns)
	assert.Equal(t, DefaultDiscordErrorMessage, config.Chat.ErrorMessage)
	assert.Equal(t, DefaultDiscordExhaustedMessage, config.Chat.ExhaustedMessage)
}

func TestValidateConfigRequiredFields(t *testing.T) {
	config := DefaultConfig()
	config.Discord.Token = "token"
	config.Discord.ApplicationID = "app-id"
	config.OpenAI.APIKeys = "key-1"
	config.OpenAI.SystemPrompt = "You are a helpful AI assistant."

	b, err := New(config)
	require.NoError(t, err)
	require.NoError(t, b.ValidateConfig())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing token", func(c *Config) { c.Discord.Token = "" }},
		{
			"missing application id",
			func(c *Config) { c.Discord.ApplicationID = "" },
		},
		{"missing api keys", func(c *Config) { c.OpenAI.APIKeys = "" }},
		{"missing model", func(c *Config) { c.OpenAI.Model = "" }},
		{"missing base url", func(c *Config) { c.OpenAI.BaseURL = "" }},
		{
			"invalid base url",
			func(c *Config) { c.OpenAI.BaseURL = "not a url" },
		},
		{
			"missing system prompt",
			func(c *Config) { c.OpenAI.SystemPrompt = "" },
		},
		{
			"zero history turns",
			func(c *Config) { c.Chat.MaxHistoryTurns = 0 },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := DefaultConfig()
			bad.Discord.Token = "token"
			bad.Discord.ApplicationID = "app-id"
			bad.OpenAI.APIKeys = "key-1"
			bad.OpenAI.SystemPrompt = "You are a helpful AI assistant."
			tt.mutate(bad)
			assert.Error(t, structValidator.Struct(bad))
		})
	}
}

func TestOpenAIConfigKeys(t *testing.T) {
	tests := []struct {
		name    string
		apiKeys string
		want    []string
	}{
		{"single", "key-1", []string{"key-1"}},
		{"multiple", "key-1,key-2,key-3", []string{"key-1", "key-2", "key-3"}},
		{
			"whitespace trimmed",
			" key-1 , key-2 ",
			[]string{"key-1", "key-2"},
		},
		{"empty entries dropped", "key-1,,key-2,", []string{"key-1", "key-2"}},
		{"empty", "", nil},
		{"only commas", ",,,", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := OpenAIConfig{APIKeys: tt.apiKeys}
			assert.Equal(t, tt.want, config.Keys())
		})
	}
}

func TestConfigLogValueRedactsSecrets(t *testing.T) {
	config := DefaultConfig()
	config.Discord.Token = "super-secret-token"
	config.OpenAI.APIKeys = "sk-secret-1,sk-secret-2"

	logged := config.LogValue().String()
	assert.NotContains(t, logged, "super-secret-token")
	assert.NotContains(t, logged, "sk-secret-1")
	assert.Contains(t, logged, "[redacted]")
}

func TestNewBotRequiresAPIKeys(t *testing.T) {
	config := DefaultConfig()
	config.Discord.Token = "token"
	config.Discord.ApplicationID = "app-id"
	config.OpenAI.SystemPrompt = "You are a helpful AI assistant."

	_, err := New(config)
	assert.ErrorIs(t, err, ErrNoAPIKeys)
}

func TestDefaultLogLevels(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, DefaultLogLevel)
	assert.Equal(t, slog.LevelWarn, DefaultDiscordLogLevel)
	assert.Equal(t, slog.LevelWarn, DefaultDiscordgoLogLevel)
}
