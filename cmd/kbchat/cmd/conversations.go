package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/entrepeneur4lyf/kbchat/internal/export"
	"github.com/entrepeneur4lyf/kbchat/internal/markdown"
)

var (
	exportFormat  string
	exportOut     string
	summaryAppend bool
	showFormat    string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		active := a.Repository.ActiveID()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "\tID\tNAME\tMESSAGES\tCONTEXT\tUPDATED")
		for _, c := range a.Repository.List() {
			mark := ""
			if c.ID == active {
				mark = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
				mark, c.ID, c.Name, len(export.Messages(c)), c.ContextItems(), c.LastUpdated.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [conversation]",
	Short: "Export a conversation as text or markdown",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := export.ParseFormat(exportFormat)
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		conv, err := resolveConversation(a.Repository, firstArg(args))
		if err != nil {
			return err
		}

		switch exportOut {
		case "-":
			_, err = fmt.Fprint(cmd.OutOrStdout(), export.Render(conv, f, exportOptions(a)))
			return err
		case "":
			path, err := a.Exporter.Export(conv, f)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		default:
			path := exportOut
			if info, err := os.Stat(path); err == nil && info.IsDir() {
				path = filepath.Join(path, export.FileName(conv, f))
			}
			if err := os.WriteFile(path, []byte(export.Render(conv, f, exportOptions(a))), 0o644); err != nil {
				return fmt.Errorf("write export file: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		}
	},
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize [conversation]",
	Short: "Summarize a conversation with the model",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		conv, err := resolveConversation(a.Repository, firstArg(args))
		if err != nil {
			return err
		}
		if summaryAppend {
			msg, err := a.Summarizer.Append(cmd.Context(), a.Repository, conv.ID)
			if err != nil {
				return describe(a, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg.Text)
			return a.Flush()
		}
		text, err := a.Summarizer.Summarize(cmd.Context(), conv)
		if err != nil {
			return describe(a, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show [conversation]",
	Short: "Print a conversation rendered for the terminal",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := markdown.ParseFormat(showFormat)
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		conv, err := resolveConversation(a.Repository, firstArg(args))
		if err != nil {
			return err
		}
		out, err := renderMessage(export.Render(conv, export.FormatMarkdown, exportOptions(a)), f)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(out, "\n"))
		return err
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "markdown", "Export format (text, markdown)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", `Output file or directory, "-" for stdout (default: data directory)`)
	summarizeCmd.Flags().BoolVar(&summaryAppend, "append", false, "Append the summary to the conversation")
	showCmd.Flags().StringVar(&showFormat, "format", "terminal", "Output format (plain, markdown, terminal)")
	rootCmd.AddCommand(listCmd, exportCmd, summarizeCmd, showCmd)
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
