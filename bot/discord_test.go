package bot

import (
	"context"
	"log/slog"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSessionHandler implements DiscordSessionHandler without a live
// gateway connection.
type mockSessionHandler struct {
	opened            bool
	closed            bool
	handlers          []any
	bulkOverwrites    [][]*discordgo.ApplicationCommand
	bulkOverwriteErr  error
	responses         []*discordgo.InteractionResponse
	edits             []*discordgo.WebhookEdit
	customStatus      string
	logLevel          slog.Level
	interactionErr    error
	interactionEdtErr error
}

func (m *mockSessionHandler) Open() error {
	m.opened = true
	return nil
}

func (m *mockSessionHandler) Close() error {
	m.closed = true
	return nil
}

func (m *mockSessionHandler) AddHandler(handler any) func() {
	m.handlers = append(m.handlers, handler)
	return func() {}
}

func (m *mockSessionHandler) ApplicationCommandBulkOverwrite(
	_ string,
	_ string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	if m.bulkOverwriteErr != nil {
		return nil, m.bulkOverwriteErr
	}
	m.bulkOverwrites = append(m.bulkOverwrites, commands)
	return commands, nil
}

func (m *mockSessionHandler) InteractionRespond(
	_ *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	if m.interactionErr != nil {
		return m.interactionErr
	}
	m.responses = append(m.responses, resp)
	return nil
}

func (m *mockSessionHandler) InteractionResponseEdit(
	_ *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	if m.interactionEdtErr != nil {
		return nil, m.interactionEdtErr
	}
	m.edits = append(m.edits, newresp)
	return &discordgo.Message{}, nil
}

func (m *mockSessionHandler) UpdateCustomStatus(status string) error {
	m.customStatus = status
	return nil
}

func (m *mockSessionHandler) SetLogLevel(lvl slog.Level) error {
	m.logLevel = lvl
	return nil
}

func TestAppCommandChat(t *testing.T) {
	d := newDiscord(DefaultConfig().Discord)
	command := d.appCommandChat(DefaultConfig().Chat)

	assert.Equal(t, DiscordSlashCommandChat, command.Name)
	assert.Equal(t, discordgo.ChatApplicationCommand, command.Type)
	assert.Equal(t, DefaultDiscordChatCommandDescription, command.Description)

	require.Len(t, command.Options, 1)
	option := command.Options[0]
	assert.Equal(t, chatCommandPromptOption, option.Name)
	assert.Equal(t, discordgo.ApplicationCommandOptionString, option.Type)
	assert.True(t, option.Required)
	require.NotNil(t, option.MinLength)
	assert.Equal(t, 1, *option.MinLength)
	assert.Equal(t, 0, option.MaxLength)
}

func TestAppCommandChatMaxLength(t *testing.T) {
	d := newDiscord(DefaultConfig().Discord)
	chatConfig := DefaultConfig().Chat
	chatConfig.ChatCommandMaxLength = 500

	command := d.appCommandChat(chatConfig)
	require.Len(t, command.Options, 1)
	assert.Equal(t, 500, command.Options[0].MaxLength)
}

func TestAppCommandReset(t *testing.T) {
	d := newDiscord(DefaultConfig().Discord)
	command := d.appCommandReset()

	assert.Equal(t, DiscordSlashCommandReset, command.Name)
	assert.Equal(t, discordgo.ChatApplicationCommand, command.Type)
	assert.Equal(t, DefaultDiscordResetCommandDescription, command.Description)
	assert.Empty(t, command.Options)
}

func TestRegisterCommands(t *testing.T) {
	b, _ := newTestBot(t, "key-1")
	session := &mockSessionHandler{}
	b.discord.session = session

	created, err := b.RegisterSlashCommands()
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, DiscordSlashCommandChat, created[0].Name)
	assert.Equal(t, DiscordSlashCommandReset, created[1].Name)
	require.Len(t, session.bulkOverwrites, 1)
}

func TestAckResponseFlag(t *testing.T) {
	d := newDiscord(DefaultConfig().Discord)

	assert.Equal(
		t,
		discordgo.MessageFlagsLoading,
		d.ackResponseFlag(DiscordSlashCommandChat),
	)
	assert.Equal(
		t,
		discordgo.MessageFlagsEphemeral,
		d.ackResponseFlag(DiscordSlashCommandReset),
	)
	assert.Equal(
		t,
		discordgo.MessageFlagsEphemeral,
		d.ackResponseFlag("unknown"),
	)
}

func TestGatewayHandler(t *testing.T) {
	session := &mockSessionHandler{}
	i := newChatInteraction("user-a", "hello")
	handler := GatewayHandler{session: session, interaction: i}

	assert.Same(t, i, handler.GetInteraction())
	assert.NotNil(t, handler.Logger())

	require.NoError(
		t,
		handler.Respond(
			context.Background(),
			&discordgo.InteractionResponse{
				Type: discordgo.InteractionResponsePong,
			},
		),
	)
	require.Len(t, session.responses, 1)

	content := "edited"
	require.NoError(
		t,
		handler.Edit(
			context.Background(),
			&discordgo.WebhookEdit{Content: &content},
		),
	)
	require.Len(t, session.edits, 1)
	assert.Equal(t, &content, session.edits[0].Content)
}

func TestConnectionHandlersTrackGatewayState(t *testing.T) {
	d := newDiscord(DefaultConfig().Discord)
	d.logger = slog.Default()
	session := &mockSessionHandler{}
	d.session = session

	assert.False(t, d.connected.Load())

	d.handlerConnect()(nil, nil)
	assert.True(t, d.connected.Load())
	assert.Equal(t, int64(1), d.metricConnects.Load())
	assert.Equal(t, DefaultDiscordCustomStatus, session.customStatus)

	d.handlerDisconnect()(nil, nil)
	assert.False(t, d.connected.Load())
	assert.Equal(t, int64(1), d.metricDisconnects.Load())

	d.handlerConnect()(nil, nil)
	assert.True(t, d.connected.Load())
	assert.Equal(t, int64(2), d.metricConnects.Load())
}

func TestConnectionHandlerSkipsEmptyStatus(t *testing.T) {
	config := DefaultConfig().Discord
	config.CustomStatus = ""
	d := newDiscord(config)
	d.logger = slog.Default()
	session := &mockSessionHandler{}
	d.session = session

	d.handlerConnect()(nil, nil)
	assert.Empty(t, session.customStatus)
}

func TestGetDiscordUser(t *testing.T) {
	fromUser := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			User: &discordgo.User{ID: "direct"},
		},
	}
	assert.Equal(t, "direct", getDiscordUser(fromUser).ID)

	fromMember := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Member: &discordgo.Member{User: &discordgo.User{ID: "member"}},
		},
	}
	assert.Equal(t, "member", getDiscordUser(fromMember).ID)

	assert.Nil(
		t,
		getDiscordUser(
			&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}},
		),
	)
}
