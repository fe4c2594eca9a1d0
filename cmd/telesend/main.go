package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

// options holds the parsed command-line flags.
type options struct {
	configPath  string
	envFile     string
	logLevel    string
	platform    string
	apiID       string
	apiHash     string
	token       string
	phoneNumber string
	chatID      string
	directory   string
	listChats   bool
	dryRun      bool
}

// app binds the command tree to its standard streams.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	opts   options
}

func main() {
	a := &app{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	os.Exit(a.execute(context.Background(), os.Args[1:]))
}

// execute runs the command tree and maps the outcome to an exit code.
func (a *app) execute(ctx context.Context, args []string) int {
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(a.stderr, "Interrupted by user.")
	default:
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
	}
	return 1
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "telesend",
		Short: "Relay messages and files from stdin to a chat",
		Long: `telesend reads lines from standard input and sends each one to a single
Telegram, Slack or Discord chat. A line is "kind: body" where kind is text,
markdown, photo, video or file; anything else is sent as plain text.`,
		Version:           version,
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return a.loadEnvFile(cmd) },
		RunE:              func(cmd *cobra.Command, args []string) error { return a.runSend(cmd) },
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.opts.configPath, "config", "c", "", "config file, .json or .yaml (default: ~/.telesend/config.json)")
	pf.StringVar(&a.opts.envFile, "env-file", ".env", "dotenv file loaded before the config")
	pf.StringVar(&a.opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	f := root.Flags()
	f.StringVar(&a.opts.platform, "platform", "", "messaging platform: telegram, slack, discord")
	f.StringVar(&a.opts.apiID, "api-id", "", "Telegram API id (bot id)")
	f.StringVar(&a.opts.apiHash, "api-hash", "", "Telegram API hash (bot secret)")
	f.StringVar(&a.opts.token, "token", "", "bot token for the selected platform")
	f.StringVar(&a.opts.chatID, "chat-id", "", "target chat (required unless --list-chats)")
	f.StringVar(&a.opts.directory, "directory", "", "base directory for relative attachment paths")
	f.BoolVar(&a.opts.listChats, "list-chats", false, "print id: title for each known chat and exit")
	f.BoolVar(&a.opts.dryRun, "dry-run", false, "print requests to stdout instead of sending")
	f.StringVar(&a.opts.phoneNumber, "phone-number", "", "unused, bot sessions have no phone login")
	_ = f.MarkHidden("phone-number")

	root.AddCommand(a.configCmd())
	return root
}

// loadEnvFile reads --env-file into the environment. The default file is
// optional; an explicitly named one must exist.
func (a *app) loadEnvFile(cmd *cobra.Command) error {
	if a.opts.envFile == "" {
		return nil
	}
	err := godotenv.Load(a.opts.envFile)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("env-file") {
		return nil
	}
	return fmt.Errorf("load env file: %w", err)
}
