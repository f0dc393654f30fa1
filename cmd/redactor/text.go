package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raaihank/pii-redactor/internal/redact"
)

var (
	textMode string
	textJSON bool
)

var textCmd = &cobra.Command{
	Use:   "text [value|-]",
	Short: "Redact a single text value",
	Example: `  redactor text "담당자 홍길동(010-1234-5678)에게 연락 바랍니다"
  echo "문의: hong@example.com" | redactor text --mode regex`,
	Args: cobra.MaximumNArgs(1),
	RunE: runText,
}

func init() {
	textCmd.Flags().StringVar(&textMode, "mode", "llm", "Processing mode: llm or regex")
	textCmd.Flags().BoolVar(&textJSON, "json", false, "Print the path, change count and tier failures as JSON")
	rootCmd.AddCommand(textCmd)
}

func runText(cmd *cobra.Command, args []string) error {
	mode, err := redact.ParseMode(textMode)
	if err != nil {
		return err
	}
	text, err := readTextArg(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	engine, err := a.factory.Create(cmd.Context(), a.current(), mode)
	if err != nil {
		return err
	}
	defer engine.Close()

	out := engine.Redact(cmd.Context(), text)
	if !textJSON {
		fmt.Fprintln(cmd.OutOrStdout(), out.Text)
		return nil
	}

	failures := make([]string, 0, len(out.Failures))
	for _, f := range out.Failures {
		failures = append(failures, f.Tier+": "+f.Err.Error())
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"text":     out.Text,
		"changes":  out.Changes,
		"path":     out.Path,
		"states":   out.States,
		"failures": failures,
	})
}

// readTextArg returns the positional value, or stdin for "-" or when input
// is piped.
func readTextArg(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	if len(args) == 0 {
		if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return "", errors.New("no text given: pass a value or pipe it on stdin")
		}
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
