package personal

import (
	"context"
	"fmt"
	"strings"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"github.com/rishsane/humuter-sub000/internal/config"
)

// CodePrompt asks the operator for the login code Telegram just sent.
type CodePrompt func(ctx context.Context) (string, error)

// Login runs the interactive phone-code flow once and stores the session file
// the adapter reuses on Start. password is the 2FA password, if the account has one.
func Login(ctx context.Context, cfg config.TelegramUserConfig, password string, prompt CodePrompt, log *zap.Logger) error {
	if cfg.AppID == 0 || cfg.AppHash == "" || cfg.Phone == "" {
		return fmt.Errorf("telegram app_id, app_hash and phone are required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	client := telegram.NewClient(cfg.AppID, cfg.AppHash, telegram.Options{
		Logger:         log.Named("gotd"),
		SessionStorage: &session.FileStorage{Path: config.ExpandHome(cfg.SessionFile)},
	})

	flow := auth.NewFlow(
		auth.Constant(cfg.Phone, password, auth.CodeAuthenticatorFunc(func(ctx context.Context, _ *tg.AuthSentCode) (string, error) {
			code, err := prompt(ctx)
			return strings.TrimSpace(code), err
		})),
		auth.SendCodeOptions{},
	)

	return client.Run(ctx, func(ctx context.Context) error {
		if err := client.Auth().IfNecessary(ctx, flow); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
		self, err := client.Self(ctx)
		if err != nil {
			return fmt.Errorf("fetch self: %w", err)
		}
		log.Info("telegram user logged in", zap.Int64("id", self.ID), zap.String("username", self.Username))
		return nil
	})
}
