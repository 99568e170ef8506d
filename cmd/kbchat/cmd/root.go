// Package cmd implements the kbchat command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/entrepeneur4lyf/kbchat/internal/app"
	"github.com/entrepeneur4lyf/kbchat/internal/chat"
	"github.com/entrepeneur4lyf/kbchat/internal/conversation"
	"github.com/entrepeneur4lyf/kbchat/internal/export"
	"github.com/entrepeneur4lyf/kbchat/internal/llm"
	"github.com/entrepeneur4lyf/kbchat/internal/markdown"
)

var (
	configPath string
	debug      bool
)

var (
	format         string
	conversationID string
)

var rootCmd = &cobra.Command{
	Use:   "kbchat [prompt]",
	Short: "Chat grounded in your own URLs and documents",
	Long: `kbchat keeps named conversations, each with its own knowledge base of
URLs and files, and answers with citations from a Gemini model.

Usage:
  kbchat serve                 # Run the HTTP and WebSocket API
  kbchat "your question"       # Ask in the active conversation
  echo "question" | kbchat     # Pipe input`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	Args:              cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := strings.TrimSpace(strings.Join(args, " "))
		if prompt == "" && hasStdinInput() {
			raw, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("failed to read stdin: %w", err)
			}
			prompt = strings.TrimSpace(string(raw))
		}
		if prompt == "" {
			return cmd.Help()
		}
		return ask(cmd.Context(), cmd.OutOrStdout(), prompt)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.Flags().StringVar(&format, "format", "terminal", "Output format (plain, markdown, terminal)")
	rootCmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Conversation id or name (default: active)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, app.Options{ConfigPath: configPath, Debug: debug})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize kbchat: %w", err)
	}
	return a, nil
}

// resolveConversation finds a conversation by id, then by name. An empty
// reference means the active conversation.
func resolveConversation(repo *conversation.Repository, ref string) (conversation.Conversation, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return repo.Active(), nil
	}
	if conv, err := repo.Get(ref); err == nil {
		return conv, nil
	}
	for _, conv := range repo.List() {
		if strings.EqualFold(conv.Name, ref) {
			return conv, nil
		}
	}
	return conversation.Conversation{}, fmt.Errorf("%w: %s", conversation.ErrUnknownConversation, ref)
}

// ask sends prompt and prints the finished reply.
func ask(ctx context.Context, out io.Writer, prompt string) error {
	outFormat, err := markdown.ParseFormat(format)
	if err != nil {
		return err
	}
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	conv, err := resolveConversation(a.Repository, conversationID)
	if err != nil {
		return err
	}
	gen, err := a.Reconciler.Send(ctx, conv.ID, prompt, nil)
	if err != nil {
		return describe(a, err)
	}
	res := gen.Wait()
	if res.Err != nil {
		if res.Message.Text != "" {
			return errors.New(res.Message.Text)
		}
		return describe(a, res.Err)
	}

	text, err := renderMessage(res.Message.Text, outFormat)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, text)
	return err
}

// describe localizes service errors for the terminal.
func describe(a *app.App, err error) error {
	if msg, ok := conversation.Localize(err, a.I18n); ok {
		return errors.New(msg)
	}
	return errors.New(llm.Describe(err, a.I18n))
}

func renderMessage(text string, f markdown.MessageFormat) (string, error) {
	var renderer *markdown.Renderer
	if f == markdown.FormatTerminal {
		r, err := markdown.NewRenderer(markdown.DefaultConfig())
		if err != nil {
			return "", err
		}
		renderer = r
	}
	return markdown.NewProcessor(renderer).Format(text, f)
}

func exportOptions(a *app.App) export.Options {
	return export.Options{
		Translator: a.I18n,
		Numbering:  chat.Numbering(a.Config.Chat.CitationNumbering),
		Location:   time.Local,
	}
}

// hasStdinInput checks if there's input available from stdin
func hasStdinInput() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}
