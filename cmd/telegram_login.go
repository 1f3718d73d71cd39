package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rishsane/humuter-sub000/internal/channels/telegram/personal"
	"github.com/rishsane/humuter-sub000/internal/config"
)

func telegramLoginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "telegram-login",
		Short: "Authorize the Telegram personal-account session",
		Long:  "Runs the phone-code login once and writes the session file used by the telegram_user channel. The 2FA password is read from --password or HUMUTER_TELEGRAM_PASSWORD.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			tu := cfg.Channels.TelegramUser
			if password == "" {
				password = os.Getenv("HUMUTER_TELEGRAM_PASSWORD")
			}
			if err := os.MkdirAll(filepath.Dir(config.ExpandHome(tu.SessionFile)), 0o700); err != nil {
				return fmt.Errorf("create session dir: %w", err)
			}

			log, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			defer log.Sync()

			in := bufio.NewReader(os.Stdin)
			prompt := func(ctx context.Context) (string, error) {
				fmt.Print("Enter the code Telegram sent you: ")
				return in.ReadString('\n')
			}
			if err := personal.Login(cmd.Context(), tu, password, prompt, log); err != nil {
				return err
			}
			fmt.Printf("Session saved to %s\n", config.ExpandHome(tu.SessionFile))
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "2FA password, if the account has one")
	return cmd
}
