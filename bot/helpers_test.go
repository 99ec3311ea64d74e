package bot

import (
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		s    string
		n    int
		want string
	}{
		{"shorter than limit", "hello", 10, "hello"},
		{"exactly at limit", "hello", 5, "hello"},
		{"over limit", "hello world", 5, "hello"},
		{"zero limit leaves unchanged", "hello", 0, "hello"},
		{"negative limit leaves unchanged", "hello", -1, "hello"},
		{"empty string", "", 5, ""},
		{"multibyte runes", "héllo wörld", 7, "héllo w"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.s, tt.n))
		})
	}
}

func TestTruncateLongReply(t *testing.T) {
	long := strings.Repeat("x", discordMaxMessageLength*2)
	assert.Len(t, truncate(long, discordMaxMessageLength), discordMaxMessageLength)
}

func TestKeyFragment(t *testing.T) {
	assert.Equal(t, "sk-12345", keyFragment("sk-123456789abcdef"))
	assert.Equal(t, "short", keyFragment("short"))
}

func TestDiscordInteractionOptions(t *testing.T) {
	i := newChatInteraction("user-a", "what's up?")

	options := discordInteractionOptions(i)
	require.Contains(t, options, chatCommandPromptOption)
	assert.Equal(t, "what's up?", options[chatCommandPromptOption].StringValue())
}

func TestStructToSlogValueRedaction(t *testing.T) {
	type testConfig struct {
		Token   string `json:"token" log:"[redacted]"`
		Name    string `json:"name"`
		Ignored string `json:"-"`
	}

	value := structToSlogValue(
		testConfig{Token: "secret", Name: "visible", Ignored: "present"},
	)
	logged := value.String()
	assert.NotContains(t, logged, "secret")
	assert.Contains(t, logged, "[redacted]")
	assert.Contains(t, logged, "visible")
}

func TestStructToSlogValueSkipsEmpty(t *testing.T) {
	type testConfig struct {
		Name  string   `json:"name"`
		Empty string   `json:"empty"`
		Items []string `json:"items"`
	}

	logged := structToSlogValue(testConfig{Name: "set"}).String()
	assert.Contains(t, logged, "set")
	assert.NotContains(t, logged, "empty")
	assert.NotContains(t, logged, "items")
}

func TestStructToSlogValueNil(t *testing.T) {
	assert.Equal(t, "<nil>", structToSlogValue(nil).String())

	var config *DiscordConfig
	assert.Equal(t, "<nil>", structToSlogValue(config).String())
}

func TestInteractionLogAttrs(t *testing.T) {
	i := discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        "interaction-id",
			AppID:     "app-id",
			GuildID:   "guild-id",
			ChannelID: "channel-id",
			Type:      discordgo.InteractionApplicationCommand,
		},
	}
	attrs := interactionLogAttrs(i)
	assert.Contains(t, attrs, "interaction-id")
	assert.Contains(t, attrs, "app-id")
	assert.Contains(t, attrs, "guild-id")
	assert.Contains(t, attrs, "channel-id")
}
