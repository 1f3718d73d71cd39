package telegram

import (
	"context"
	"log/slog"

	"github.com/mymmrac/telego"
)

// SyncMenuCommands replaces the bot's private-chat command menu.
func (c *Channel) SyncMenuCommands(ctx context.Context, commands []telego.BotCommand) error {
	scope := &telego.BotCommandScopeAllPrivateChats{Type: telego.ScopeTypeAllPrivateChats}

	if err := c.bot.DeleteMyCommands(ctx, &telego.DeleteMyCommandsParams{Scope: scope}); err != nil {
		slog.Debug("deleteMyCommands failed (may not exist)", "error", err)
	}
	if len(commands) == 0 {
		return nil
	}
	if len(commands) > 100 {
		commands = commands[:100]
	}
	return c.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{
		Commands: commands,
		Scope:    scope,
	})
}

// SupervisorMenuCommands lists the escalation commands a supervisor types in
// the bot's private chat.
func SupervisorMenuCommands() []telego.BotCommand {
	return []telego.BotCommand{
		{Command: "direct", Description: "Send your text verbatim as the answer"},
		{Command: "ignore", Description: "Dismiss the pending escalation"},
	}
}
