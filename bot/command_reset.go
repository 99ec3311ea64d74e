package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

var (
	// resetCommandResponseForgotten is the response message sent to the
	// user when their /reset command succeeds.
	resetCommandResponseForgotten = "I've forgotten everything you said!"
)

// ResetCommand represents a single '/reset' slash command execution,
// clearing the caller's conversation history. Resetting is idempotent:
// a user with no history gets the same confirmation.
type ResetCommand struct {
	UserID        string
	Username      string
	InteractionID string
	StartedAt     time.Time
	FinishedAt    time.Time

	handler InteractionHandler
	logger  *slog.Logger
}

func NewResetCommand(
	u *discordgo.User,
	i *discordgo.InteractionCreate,
) *ResetCommand {
	return &ResetCommand{
		UserID:        u.ID,
		Username:      u.Username,
		InteractionID: i.ID,
	}
}

func (c ResetCommand) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user_id", c.UserID),
		slog.String("username", c.Username),
		slog.String("interaction_id", c.InteractionID),
	)
}

// execute clears the caller's history and confirms via the deferred
// interaction response.
func (c *ResetCommand) execute(ctx context.Context, b *Bot) error {
	b.resetCommandsInProgress.Add(1)
	defer b.resetCommandsInProgress.Add(-1)

	cmdLogger := c.logger
	if cmdLogger == nil {
		cmdLogger = slog.Default()
	}

	c.StartedAt = time.Now()
	defer func() {
		c.FinishedAt = time.Now()
	}()

	unlock := b.lockUser(c.UserID)
	b.history.Clear(c.UserID)
	unlock()

	cmdLogger.InfoContext(ctx, "cleared user history", "user_id", c.UserID)

	if editErr := c.handler.Edit(
		ctx,
		&discordgo.WebhookEdit{Content: &resetCommandResponseForgotten},
	); editErr != nil {
		cmdLogger.ErrorContext(ctx, "error updating interaction", tint.Err(editErr))
		return editErr
	}
	return nil
}
