package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/scribe/internal/normalize"
	"github.com/MrWong99/scribe/pkg/note"
	"github.com/MrWong99/scribe/pkg/provider/generation"
)

func newNormalizeCmd() *cobra.Command {
	var (
		format string
		plain  bool
	)
	cmd := &cobra.Command{
		Use:   "normalize [file]",
		Short: "Convert a raw generation response into a SOAP note",
		Long: `Reads a generation response value from file, or stdin when no file is
given, and prints the four-section note. The input may be a JSON string, a JSON
object keyed by section, or plain labelled text.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "text" {
				return fmt.Errorf("unknown format %q (want json or text)", format)
			}

			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			data, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			content, err := normalize.Normalize(generation.ParseRaw(string(data)))
			if err != nil {
				return err
			}
			if plain {
				content = note.PlainContent(content)
			}

			out := cmd.OutOrStdout()
			if format == "text" {
				_, err = fmt.Fprintln(out, content.Render())
				return err
			}
			return writeJSON(out, content)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json or text")
	cmd.Flags().BoolVar(&plain, "plain", false, "strip rich-text markup from the sections")
	return cmd
}
