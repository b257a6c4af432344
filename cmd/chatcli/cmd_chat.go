package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/docchat/internal/bus"
	"github.com/zhouzirui/docchat/internal/engine"
)

var (
	chatDocument string
	chatSession  string
	chatTitle    string
)

// chatCmd opens an interactive conversation
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open or resume a conversation about a document",
	Long: `Opens the session given by --session, or starts a new one for --document.
If the session cannot be fetched a new one is created for the document.

Inside the conversation:
  /react <n> <emoji>  react to message n of the transcript
  /history            print the grouped transcript
  /context            print the passage the last answer was based on
  /quit               leave`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatDocument, "document", "d", "", "document to talk about")
	chatCmd.Flags().StringVar(&chatSession, "session", "", "session id to resume")
	chatCmd.Flags().StringVar(&chatTitle, "title", "", "title for a new session")
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	c, manager, err := newManager()
	if err != nil {
		return err
	}

	title := chatTitle
	if title == "" {
		title = defaultTitle(chatDocument)
	}
	session, err := manager.Open(ctx, chatSession, title, chatDocument)
	if err != nil {
		return err
	}

	store := engine.NewStore(*session)
	dispatcher := engine.NewDispatcher(c, store, engine.NewTypingIndicator(), engine.Options{
		Streaming: streaming,
		Logger:    logger,
	})
	reactions := engine.NewReactionStore(store)
	defer dispatcher.Close()

	b := bus.New(logger)
	defer b.Close()

	events, err := b.Events(ctx)
	if err != nil {
		return err
	}
	binding, err := b.Bind(ctx, dispatcher, reactions)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printTranscript(out, store.Snapshot())
	fmt.Fprintln(out)
	dimColor.Fprintf(out, "session %s, type /quit to leave\n", store.SessionID())

	renderer := newLiveRenderer(out, store)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(binding.Run)
	g.Go(func() error {
		for ev := range events {
			renderer.handle(ev)
		}
		return nil
	})

	err = readLoop(gctx, cmd.InOrStdin(), out, b, store)
	cancel()
	dispatcher.Close()
	if werr := g.Wait(); werr != nil && err == nil {
		err = werr
	}
	return err
}

func defaultTitle(documentID string) string {
	if documentID == "" {
		return "New chat"
	}
	return "Chat about " + documentID
}

// readLoop feeds stdin lines to the bus until /quit, EOF or ctx ends.
func readLoop(ctx context.Context, in io.Reader, out io.Writer, b *bus.Bus, store *engine.Store) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	sessionID := store.SessionID()
	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch {
		case line == "":
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/history":
			printTranscript(out, store.Snapshot())
		case line == "/context":
			if value, ok := store.Context(); ok {
				dimColor.Fprintln(out, value)
			} else {
				dimColor.Fprintln(out, "no context yet")
			}
		case strings.HasPrefix(line, "/react"):
			messageID, emoji, err := parseReact(line, store)
			if err != nil {
				errorColor.Fprintln(out, err)
				continue
			}
			if err := b.React(sessionID, messageID, emoji); err != nil {
				return err
			}
		case strings.HasPrefix(line, "/"):
			errorColor.Fprintf(out, "unknown command %s\n", strings.Fields(line)[0])
		default:
			if err := b.Send(sessionID, line); err != nil {
				return err
			}
			logger.Debug("queued message", zap.String("session_id", sessionID))
		}
	}
}

// parseReact resolves "/react <n> <emoji>" against the transcript numbering
// used by printTranscript.
func parseReact(line string, store *engine.Store) (string, string, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return "", "", fmt.Errorf("usage: /react <n> <emoji>")
	}
	n, err := strconv.Atoi(fields[1])
	messages := store.Messages()
	if err != nil || n < 1 || n > len(messages) {
		return "", "", fmt.Errorf("no message %s", fields[1])
	}
	return messages[n-1].ID, fields[2], nil
}
