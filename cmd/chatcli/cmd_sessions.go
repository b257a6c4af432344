package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/docchat/internal/handler/middleware"
)

var (
	askDocument string
	historyID   string
	tokenUser   string
	tokenSecret string
	tokenTTL    time.Duration
)

// sessionsCmd lists the caller's sessions
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List your chat sessions",
	RunE:  listSessions,
}

// historyCmd prints one session's grouped transcript
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the transcript of a session",
	RunE:  showHistory,
}

// askCmd asks without a session
var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a one-off question, optionally about a document",
	Args:  cobra.MinimumNArgs(1),
	RunE:  askQuestion,
}

// tokenCmd mints a development token
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token signed with JWT_SECRET",
	Long: `Signs an HS256 token whose subject is the given user. Intended for local
development against a server sharing the same JWT_SECRET.

Example:
  export DOCCHAT_TOKEN=$(chatcli token --user alice)`,
	RunE: mintToken,
}

func init() {
	historyCmd.Flags().StringVar(&historyID, "session", "", "session id (required)")
	_ = historyCmd.MarkFlagRequired("session")

	askCmd.Flags().StringVarP(&askDocument, "document", "d", "", "document id to ground the answer on")

	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id to put in the token subject (required)")
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", os.Getenv("JWT_SECRET"), "signing secret")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime, 0 for no expiry")
	_ = tokenCmd.MarkFlagRequired("user")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func listSessions(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	_, manager, err := newManager()
	if err != nil {
		return err
	}
	sessions, err := manager.List(ctx)
	if err != nil {
		return err
	}
	printSessions(cmd.OutOrStdout(), sessions)
	return nil
}

func showHistory(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	_, manager, err := newManager()
	if err != nil {
		return err
	}
	session, err := manager.Fetch(ctx, historyID)
	if err != nil {
		return err
	}
	printTranscript(cmd.OutOrStdout(), *session)
	return nil
}

func askQuestion(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	_, manager, err := newManager()
	if err != nil {
		return err
	}
	question := strings.Join(args, " ")
	out := cmd.OutOrStdout()
	if !streaming {
		reply, err := manager.Ask(ctx, question, askDocument)
		if err != nil {
			return err
		}
		printReply(out, reply)
		return nil
	}

	assistantColor.Fprintln(out, "assistant")
	var printed strings.Builder
	reply, err := manager.AskStream(ctx, question, askDocument, func(token string) {
		printed.WriteString(token)
		fmt.Fprint(out, token)
	})
	if err != nil {
		return err
	}
	printStreamedReply(out, reply, printed.String())
	return nil
}

func mintToken(cmd *cobra.Command, _ []string) error {
	signed, err := middleware.IssueToken(tokenSecret, tokenUser, tokenTTL)
	if errors.Is(err, middleware.ErrMissingSecret) {
		return errors.New("no signing secret: pass --secret or set JWT_SECRET")
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), signed)
	return nil
}
