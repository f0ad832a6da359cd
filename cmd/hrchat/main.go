// hrchat is a terminal frontend for the HR chat client: interactive
// one-to-one messaging plus conversation and directory lookups.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hrlink/hrchat/internal/chat"
	"github.com/hrlink/hrchat/internal/config"
	"github.com/hrlink/hrchat/internal/rest"
	"github.com/hrlink/hrchat/internal/wire"
)

var (
	logger *zap.Logger
	debug  bool
	userID string
)

func main() {
	root := &cobra.Command{
		Use:   "hrchat",
		Short: "HR chat client",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			zcfg := zap.NewProductionConfig()
			if debug {
				zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			var err error
			logger, err = zcfg.Build()
			return err
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&userID, "user", "", "local user id")
	_ = root.MarkPersistentFlagRequired("user")

	root.AddCommand(chatCmd(), conversationsCmd(), searchCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func chatCmd() *cobra.Command {
	var peer string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open an interactive conversation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			backend := rest.New(cfg.APIBaseURL, cfg.Token, userID, logger)
			router := chat.NewRouter(chat.Callbacks{})
			transport := chat.NewBrokerTransport(cfg.WSEndpoint, router, chat.TransportOptions{
				HeartbeatInterval: cfg.HeartbeatInterval,
				ReconnectInterval: cfg.ReconnectInterval,
			}, logger)
			session := chat.NewSession(userID, transport, router, backend, chat.SessionOptions{
				TypingQuietPeriod: cfg.TypingQuietPeriod,
			}, logger)
			defer session.Close()

			session.OnMessage(func(m wire.Message) {
				if m.SenderID == peer {
					fmt.Printf("\r%s: %s\n> ", m.SenderID, m.Content)
				}
			})

			if err := session.Open(ctx); err != nil {
				return err
			}
			session.SetActiveRecipient(ctx, peer)

			poller := chat.NewListPoller(backend, session.Store(), cfg.ListRefreshInterval, logger)
			go poller.Run(ctx)

			fmt.Printf("chatting with %s (ctrl-c to quit)\n> ", peer)
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := scanner.Text()
				if line == "" {
					fmt.Print("> ")
					continue
				}
				session.HandleTyping()
				if err := session.SendMessage(line); err != nil {
					if errors.Is(err, chat.ErrPublishDropped) {
						fmt.Println("! not connected, message not sent")
					} else {
						fmt.Printf("! send failed: %v\n", err)
					}
				}
				fmt.Print("> ")
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringVar(&peer, "peer", "", "recipient user id")
	_ = cmd.MarkFlagRequired("peer")
	return cmd
}

func conversationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "List recent conversations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			backend := rest.New(cfg.APIBaseURL, cfg.Token, userID, logger)
			previews, err := backend.Conversations(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range previews {
				badge := ""
				if p.UnreadCount > 0 {
					badge = fmt.Sprintf(" (%d unread)", p.UnreadCount)
				}
				fmt.Printf("%s\t%s%s\t%s\n", p.UserID, p.UserName, badge, p.LastMessage)
			}
			return nil
		},
	}
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search the user directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			backend := rest.New(cfg.APIBaseURL, cfg.Token, userID, logger)
			users, err := backend.SearchUsers(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, u := range users {
				fmt.Printf("%s\t%s\n", u.UserID, u.UserName)
			}
			return nil
		},
	}
}
