package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
)

// ChatCommand represents a single '/chat' slash command execution.
//
// It carries the caller's identity, their prompt, and the handler used
// to deliver the final response. Execution appends the exchange to the
// caller's history: the user turn is appended up front, and the
// assistant turn only on success - a failed request never adds an
// assistant turn.
type ChatCommand struct {
	UserID        string
	Username      string
	InteractionID string
	Prompt        string
	StartedAt     time.Time
	FinishedAt    time.Time
	Response      string

	handler InteractionHandler
	logger  *slog.Logger
}

// NewChatCommand creates a ChatCommand from the given interaction.
// Returns an error if the prompt option is missing or empty.
func NewChatCommand(
	u *discordgo.User,
	i *discordgo.InteractionCreate,
) (*ChatCommand, error) {
	opts := discordInteractionOptions(i)
	promptOption := opts[chatCommandPromptOption]
	if promptOption == nil {
		return nil, fmt.Errorf(
			"interaction %s missing option %q",
			i.ID,
			chatCommandPromptOption,
		)
	}
	prompt := promptOption.StringValue()
	if prompt == "" {
		return nil, fmt.Errorf("interaction %s has an empty prompt", i.ID)
	}

	return &ChatCommand{
		UserID:        u.ID,
		Username:      u.Username,
		InteractionID: i.ID,
		Prompt:        prompt,
	}, nil
}

func (c ChatCommand) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user_id", c.UserID),
		slog.String("username", c.Username),
		slog.String("interaction_id", c.InteractionID),
		slog.String("prompt", c.Prompt),
	)
}

// execute runs the chat command against the completion API and edits the
// deferred interaction response with the result.
//
// The caller's history is serialized on a per-user lock for the full
// exchange, so concurrent /chat commands from the same user can't
// interleave their appends. The user turn is appended before delivery
// and retained even if every key fails; the assistant turn is appended
// only on success. History is trimmed to the cap at every write.
func (c *ChatCommand) execute(ctx context.Context, b *Bot) error {
	b.chatCommandsInProgress.Add(1)
	defer b.chatCommandsInProgress.Add(-1)

	cmdLogger := c.logger
	if cmdLogger == nil {
		cmdLogger = slog.Default()
	}
	ctx = WithLogger(ctx, cmdLogger)

	c.StartedAt = time.Now()
	defer func() {
		c.FinishedAt = time.Now()
	}()

	unlock := b.lockUser(c.UserID)
	defer unlock()

	b.history.Append(
		c.UserID,
		Turn{Role: openai.ChatMessageRoleUser, Content: c.Prompt},
	)

	messages := chatMessages(
		b.config.OpenAI.SystemPrompt,
		b.history.Turns(c.UserID),
	)

	reply, err := b.openai.CreateCompletion(ctx, messages)
	if err != nil {
		cmdLogger.ErrorContext(ctx, "completion failed", tint.Err(err))
		content := b.config.Chat.ErrorMessage
		if errors.Is(err, ErrAllKeysExhausted) || errors.Is(err, ErrNoAPIKeys) {
			content = b.config.Chat.ExhaustedMessage
		}
		if editErr := c.handler.Edit(
			ctx,
			&discordgo.WebhookEdit{Content: &content},
		); editErr != nil {
			cmdLogger.ErrorContext(
				ctx,
				"error updating interaction",
				tint.Err(editErr),
			)
		}
		return err
	}

	b.history.Append(
		c.UserID,
		Turn{Role: openai.ChatMessageRoleAssistant, Content: reply},
	)
	c.Response = reply

	content := truncate(reply, discordMaxMessageLength)
	if editErr := c.handler.Edit(
		ctx,
		&discordgo.WebhookEdit{Content: &content},
	); editErr != nil {
		cmdLogger.ErrorContext(ctx, "error updating interaction", tint.Err(editErr))
		return editErr
	}

	cmdLogger.InfoContext(
		ctx,
		"chat command finished",
		"elapsed", time.Since(c.StartedAt),
		"history_len", b.history.Len(c.UserID),
	)
	return nil
}

// chatMessages builds the completion request payload: the system prompt
// followed by the user's full retained history, oldest turn first.
func chatMessages(
	systemPrompt string,
	turns []Turn,
) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	messages = append(
		messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		},
	)
	for _, turn := range turns {
		messages = append(
			messages, openai.ChatCompletionMessage{
				Role:    turn.Role,
				Content: turn.Content,
			},
		)
	}
	return messages
}
