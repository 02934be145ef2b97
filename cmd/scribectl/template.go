package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/scribe/internal/template"
)

func (c *cli) newTemplateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "template",
		Aliases: []string{"templates", "tpl"},
		Short:   "Manage the note template library",
	}
	cmd.PersistentFlags().StringVar(&c.dsn, "dsn", "", "PostgreSQL connection string (default $"+dsnEnv+")")

	cmd.AddCommand(c.newTemplateListCmd())
	cmd.AddCommand(c.newTemplateShowCmd())
	cmd.AddCommand(c.newTemplateHistoryCmd())
	cmd.AddCommand(c.newTemplateRestoreCmd())
	cmd.AddCommand(c.newTemplateImportCmd())
	return cmd
}

func (c *cli) newTemplateListCmd() *cobra.Command {
	var (
		query  string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List templates, or search them by name or specialty",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, release, err := c.templates(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			var matches []template.Match
			if query != "" {
				if matches, err = svc.Search(cmd.Context(), query, limit); err != nil {
					return err
				}
			} else {
				all, err := svc.List(cmd.Context())
				if err != nil {
					return err
				}
				for i, t := range all {
					if limit > 0 && i == limit {
						break
					}
					matches = append(matches, template.Match{Template: t})
				}
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), matches)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSPECIALTY\tVERSION\tUPDATED BY")
			for _, m := range matches {
				t := m.Template
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", t.ID, t.Name, t.Specialty, t.Version, t.UpdatedBy)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "fuzzy search on name or specialty")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of templates (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")
	return cmd
}

func (c *cli) newTemplateShowCmd() *cobra.Command {
	var (
		version int
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a template, optionally at an earlier version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, release, err := c.templates(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			t, err := svc.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			v := t.Current()
			if version != 0 && version != t.Version {
				var ok bool
				if v, ok = t.Lookup(version); !ok {
					return fmt.Errorf("%w: %d", template.ErrVersionNotFound, version)
				}
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), v)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (version %d of %d, by %s)\n\n", t.Name, v.Version, t.Version, v.UpdatedBy)
			_, err = fmt.Fprintln(out, v.Content.Render())
			return err
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "historical version to print (default current)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output in JSON format")
	return cmd
}

func (c *cli) newTemplateHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "List the versions of a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, release, err := c.templates(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			versions, err := svc.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tUPDATED AT\tUPDATED BY")
			for _, v := range versions {
				fmt.Fprintf(tw, "%d\t%s\t%s\n", v.Version, v.UpdatedAt.Format("2006-01-02 15:04"), v.UpdatedBy)
			}
			return tw.Flush()
		},
	}
}

func (c *cli) newTemplateRestoreCmd() *cobra.Command {
	var (
		expected int
		author   string
	)
	cmd := &cobra.Command{
		Use:   "restore <id> <version>",
		Short: "Make an earlier version current again as a new version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("version %q: %w", args[1], err)
			}
			svc, release, err := c.templates(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			if expected == 0 {
				t, err := svc.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				expected = t.Version
			}
			t, err := svc.Restore(cmd.Context(), args[0], expected, target, author)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "restored %s to version %d as version %d\n", t.Name, target, t.Version)
			return err
		},
	}
	cmd.Flags().IntVar(&expected, "expected", 0, "current version the restore applies to (default: read it first)")
	cmd.Flags().StringVar(&author, "author", "scribectl", "author recorded on the new version")
	return cmd
}

func (c *cli) newTemplateImportCmd() *cobra.Command {
	var author string
	cmd := &cobra.Command{
		Use:   "import <glob>",
		Short: "Import templates from YAML seed files; existing names are skipped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seeds, err := template.LoadSeedFiles(args[0])
			if err != nil {
				return err
			}
			svc, release, err := c.templates(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			n, err := svc.Import(cmd.Context(), seeds, author)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d templates\n", n, len(seeds))
			return err
		},
	}
	cmd.Flags().StringVar(&author, "author", "seed", "author recorded on imported templates")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
