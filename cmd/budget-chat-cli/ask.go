package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openaip/budget-chat/internal/app"
	"github.com/openaip/budget-chat/internal/chat"
	"github.com/openaip/budget-chat/internal/compose"
	"github.com/openaip/budget-chat/internal/scope"
	"github.com/openaip/budget-chat/internal/storage"
)

func newAskCmd() *cobra.Command {
	var (
		userID    string
		scopeKind string
		scopeID   string
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a budget question as a user",
		Long: `Ask sends one message through the chat service, exactly as the API would:
quota, clarification state and persistence all apply. Pass --session to
continue a conversation, for example to answer a clarification with "1".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			spin := ui.NewSpinner("Routing question...")
			res, err := a.Chat.Send(ctx, chat.SendRequest{
				SessionID: sessionID,
				Content:   strings.Join(args, " "),
				Account: scope.Account{
					UserID:    userID,
					ScopeKind: storage.ScopeType(scopeKind),
					ScopeID:   scopeID,
				},
			})
			spin.Stop()
			if err != nil {
				if errors.Is(err, chat.ErrQuotaExceeded) {
					ui.Warning("Rate limited: %v", err)
				}
				return err
			}

			if outputJSON {
				return printJSON(map[string]interface{}{
					"sessionId": res.SessionID,
					"reply":     res.Reply,
				})
			}
			printReply(res.SessionID, res.Reply)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "cli-operator", "user id to ask as")
	cmd.Flags().StringVar(&scopeKind, "scope-kind", "", "account scope kind (barangay, city, municipality)")
	cmd.Flags().StringVar(&scopeID, "scope-id", "", "account scope id")
	cmd.Flags().StringVar(&sessionID, "session", "", "existing session id")
	return cmd
}

func printReply(sessionID string, reply compose.Reply) {
	switch reply.Status {
	case compose.StatusAnswer:
		ui.Success("%s  (route %s)", reply.Status, reply.Meta.Route)
	case compose.StatusClarification:
		ui.Warning("%s  (route %s)", reply.Status, reply.Meta.Route)
	default:
		ui.Error("%s: %s", reply.Status, reply.Meta.Reason)
	}
	ui.Plain("")
	ui.Plain("%s", reply.Content)
	ui.Plain("")
	for _, c := range reply.Citations {
		ui.Plain("  [%s] %s", c.SourceID, c.Snippet)
	}
	if reply.Meta.FallbackMode != "" {
		ui.Info("fallback %s, aggregation source %s", reply.Meta.FallbackMode, reply.Meta.AggregationSource)
	}
	ui.Info("session %s, %d ms", sessionID, reply.Meta.LatencyMs)
	if reply.Status == compose.StatusClarification {
		ui.Info("answer with: budget-chat-cli ask --session %s \"1\"", sessionID)
	}
}
