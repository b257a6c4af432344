package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/docchat/internal/client"
	"github.com/zhouzirui/docchat/internal/config"
	"github.com/zhouzirui/docchat/internal/engine"
	"github.com/zhouzirui/docchat/internal/logging"
)

var (
	apiURL    string
	token     string
	streaming bool
	timeout   time.Duration
	verbose   bool
	logFile   string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "chatcli",
	Short: "Terminal client for docchat document conversations",
	Long: `chatcli talks to a docchat server: open or resume a conversation about a
document, list your sessions, or ask a one-off question.

Connection settings default to DOCCHAT_API_URL, DOCCHAT_TOKEN, DOCCHAT_STREAM
and DOCCHAT_TIMEOUT.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		level := "warn"
		if verbose {
			level = "debug"
		}
		logger = logging.New(logging.Options{Level: level, FilePath: logFile, Quiet: !verbose})
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	_ = godotenv.Load()
	defaults, err := config.LoadClient()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaults.APIURL, "docchat server URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", defaults.Token, "bearer token (see `chatcli token`)")
	rootCmd.PersistentFlags().BoolVar(&streaming, "stream", defaults.Streaming, "stream answers token by token")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", defaults.Timeout, "timeout for buffered requests")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stdout at debug level")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON logs to this file")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newManager() (*client.Client, *engine.Manager, error) {
	c, err := client.New(client.Options{
		BaseURL: apiURL,
		Token:   token,
		Timeout: timeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return c, engine.NewManager(c, logger), nil
}
