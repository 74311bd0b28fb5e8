/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/taskhub-app/apiserver/config"
	"github.com/taskhub-app/apiserver/internal/logging"
	"github.com/taskhub-app/apiserver/internal/mailer"
	"github.com/taskhub-app/apiserver/internal/mq"
)

// mailerCmd represents the mailer command
var mailerCmd = &cobra.Command{
	Use:   "mailer",
	Short: "Delivers queued OTP emails over SMTP",
	Long: `Consumes OTP email jobs from the configured message queue and
delivers them over SMTP. Used when MAIL_TRANSPORT=queue. Usage:

	taskhub mailer
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		if cfg.MQ.Backend == "" {
			return errors.New("MQ_BACKEND is required for the mailer worker")
		}
		logger := logging.New(cfg.Log, os.Stdout)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return fmt.Errorf("connect mq: %w", err)
		}
		defer queue.Close()

		worker := mailer.NewWorker(queue, cfg.Mail.Channel, mailer.NewSMTPSender(cfg.Mail.SMTP), logger)
		return worker.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mailerCmd)
}
