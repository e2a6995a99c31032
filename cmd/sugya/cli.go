package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/sugya/internal/errors"
	"github.com/hpungsan/sugya/internal/forest"
	"github.com/hpungsan/sugya/internal/mcp"
	"github.com/hpungsan/sugya/internal/ops"
	"github.com/hpungsan/sugya/internal/web"
)

// maxStdinBytes caps reference text read from stdin.
const maxStdinBytes = 1 << 20

// newCLIApp creates the CLI application with all commands. env may be nil
// for --help and --version.
func newCLIApp(env *appEnv) *cli.App {
	app := &cli.App{
		Name:    "sugya",
		Usage:   "Reception trees for Talmudic passages",
		Version: Version,
		Commands: []*cli.Command{
			addCmd(env),
			fetchCmd(env),
			listCmd(env),
			searchCmd(env),
			duplicatesCmd(env),
			mergeCmd(env),
			updateRootCmd(env),
			regenerateCmd(env),
			deleteCmd(env),
			removeBranchCmd(env),
			harvestCmd(env),
			exportCmd(env),
			importCmd(env),
			migrateLegacyCmd(env),
			uiCmd(env),
			mcpCmd(env),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// addCmd creates the add command.
func addCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "File a citing work under a passage (reference text from --reference or stdin)",
		ArgsUsage: "<citation>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "author", Aliases: []string{"a"}, Usage: "Author of the citing work"},
			&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Title of the citing work"},
			&cli.StringFlag{Name: "publication", Usage: "Publisher, edition, pages"},
			&cli.IntFlag{Name: "year", Aliases: []string{"y"}, Usage: "Publication year"},
			&cli.StringFlag{Name: "category", Aliases: []string{"c"}, Usage: "Academic|Philosophical|Literary|Historical|Critique or free text"},
			&cli.StringFlag{Name: "keywords", Aliases: []string{"k"}, Usage: "Comma-separated keywords"},
			&cli.StringFlag{Name: "notes", Usage: "Free-form notes"},
			&cli.StringFlag{Name: "reference", Aliases: []string{"r"}, Usage: "How the work uses the passage (default: stdin)"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("exactly one citation argument is required"))
			}

			reference := c.String("reference")
			if reference == "" && stdinHasData() {
				text, err := readStdin(maxStdinBytes)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				reference = text
			}

			input := ops.AddPassageInput{
				Citation: c.Args().First(),
				Topic: ops.TopicMetadata{
					Author:             c.String("author"),
					WorkTitle:          c.String("title"),
					PublicationDetails: c.String("publication"),
					ReferenceText:      reference,
					UserNotes:          c.String("notes"),
					Category:           c.String("category"),
					Keywords:           parseList(c.String("keywords")),
				},
			}
			if c.IsSet("year") {
				year := c.Int("year")
				input.Topic.Year = &year
			}

			output, err := env.svc.AddPassage(c.Context, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// fetchCmd creates the fetch command.
func fetchCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Fetch a tree by ID or by citation",
		ArgsUsage: "[id]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "citation", Usage: "Look the tree up by citation"},
		},
		Action: func(c *cli.Context) error {
			input := ops.FetchInput{Citation: c.String("citation")}
			if c.NArg() > 0 {
				input.ID = c.Args().First()
			}
			output, err := env.svc.Fetch(c.Context, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// listCmd creates the list command.
func listCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List trees, most recently updated first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := env.svc.List(c.Context, ops.ListInput{
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// searchCmd creates the search command.
func searchCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search roots and branches",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := env.svc.Search(c.Context, ops.SearchInput{
				Query:  strings.Join(c.Args().Slice(), " "),
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// duplicatesCmd creates the duplicates command.
func duplicatesCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "duplicates",
		Usage: "Find trees whose citations refer to the same passage",
		Action: func(c *cli.Context) error {
			output, err := env.svc.Duplicates(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// mergeCmd creates the merge command.
func mergeCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "merge",
		Usage:     "Fold source trees into a target and delete the sources",
		ArgsUsage: "<target-id> <source-id>...",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Usage: "Confirm deletion of the source trees"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return outputError(errors.NewInvalidRequest("a target id and at least one source id are required"))
			}
			if !c.Bool("yes") {
				return outputError(errors.NewInvalidRequest("merge deletes the source trees; pass --yes to proceed"))
			}
			args := c.Args().Slice()
			output, err := env.svc.Merge(c.Context, ops.MergeInput{TargetID: args[0], SourceIDs: args[1:]})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// updateRootCmd creates the update-root command. Only flags that are set
// change the root; an explicitly empty flag clears the field.
func updateRootCmd(env *appEnv) *cli.Command {
	fields := []struct{ flag, usage string }{
		{"title", "Display title"},
		{"source-text", "Citation as entered (changes the comparison key)"},
		{"hebrew-text", "Primary-language text"},
		{"hebrew-translation", "Secondary translation"},
		{"translation", "English translation"},
		{"notes", "Notes and keywords"},
	}
	flags := make([]cli.Flag, 0, len(fields))
	for _, f := range fields {
		flags = append(flags, &cli.StringFlag{Name: f.flag, Usage: f.usage})
	}

	return &cli.Command{
		Name:      "update-root",
		Usage:     "Edit root fields of a tree",
		ArgsUsage: "<id>",
		Flags:     flags,
		Action: func(c *cli.Context) error {
			var u forest.RootUpdate
			set := func(flag string, dst **string) {
				if c.IsSet(flag) {
					v := c.String(flag)
					*dst = &v
				}
			}
			set("title", &u.Title)
			set("source-text", &u.SourceText)
			set("hebrew-text", &u.HebrewText)
			set("hebrew-translation", &u.HebrewTranslation)
			set("translation", &u.Translation)
			set("notes", &u.UserNotesKeywords)

			output, err := env.svc.UpdateRoot(c.Context, ops.UpdateRootInput{ID: c.Args().First(), Fields: u})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// regenerateCmd creates the regenerate command.
func regenerateCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "regenerate",
		Usage:     "Re-fetch the passage text for a tree's root",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			output, err := env.svc.Regenerate(c.Context, ops.RegenerateInput{ID: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// deleteCmd creates the delete command.
func deleteCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Permanently delete a tree and its branches",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Usage: "Confirm deletion"},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("yes") {
				return outputError(errors.NewInvalidRequest("delete is permanent; pass --yes to proceed"))
			}
			output, err := env.svc.DeleteTree(c.Context, ops.DeleteInput{ID: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// removeBranchCmd creates the remove-branch command.
func removeBranchCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "remove-branch",
		Usage:     "Remove one branch from a tree",
		ArgsUsage: "<tree-id> <branch-id>",
		Action: func(c *cli.Context) error {
			output, err := env.svc.RemoveBranch(c.Context, ops.RemoveBranchInput{
				TreeID:   c.Args().Get(0),
				BranchID: c.Args().Get(1),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// harvestCmd creates the harvest command.
func harvestCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:      "harvest",
		Usage:     "Mark a branch as ground truth",
		ArgsUsage: "<tree-id> <branch-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "undo", Usage: "Clear the mark instead"},
		},
		Action: func(c *cli.Context) error {
			output, err := env.svc.Harvest(c.Context, ops.HarvestInput{
				TreeID:    c.Args().Get(0),
				BranchID:  c.Args().Get(1),
				Harvested: !c.Bool("undo"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export the forest to JSONL",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: ~/.sugya/exports/forest-<timestamp>.jsonl)"},
		},
		Action: func(c *cli.Context) error {
			output, err := env.svc.Export(c.Context, ops.ExportInput{Path: c.String("path")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// importCmd creates the import command.
func importCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import trees from a JSONL export",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, Usage: "Import file path"},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "error", Usage: "Collision mode: error|replace|skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := env.svc.Import(c.Context, ops.ImportInput{
				Path: c.String("path"),
				Mode: ops.ImportMode(c.String("mode")),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// migrateLegacyCmd creates the migrate-legacy command.
func migrateLegacyCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:        "migrate-legacy",
		Usage:       "Convert a legacy node/edge graph file into trees",
		Description: "Safe to rerun: trees that exist or were merged into another tree are skipped. A deleted tree is created again.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, Usage: "Legacy graph file (.json)"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Report what would be created without writing"},
		},
		Action: func(c *cli.Context) error {
			output, err := env.svc.MigrateLegacy(c.Context, ops.MigrateLegacyInput{
				Path:   c.String("path"),
				DryRun: c.Bool("dry-run"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// uiCmd creates the ui command.
func uiCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "ui",
		Usage: "Serve the web UI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Value: 8765, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			srv, err := web.NewServer(env.svc, env.cfg, web.Options{
				Version: Version,
				Bind:    c.String("bind"),
				Port:    c.Int("port"),
				Logger:  env.logger,
				Metrics: env.metrics,
			})
			if err != nil {
				return outputError(err)
			}
			return web.Run(srv, env.logger)
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(env *appEnv) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Run the MCP server on stdio (the default with no command)",
		Action: func(c *cli.Context) error {
			return mcp.Run(env.svc, env.cfg, Version)
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI. Partial merges also print their details
// so the failed sources can be retried.
func outputError(err error) error {
	sErr := errors.As(err)
	msg := fmt.Sprintf("[%s] %s", sErr.Code, sErr.Message)
	if sErr.Code == errors.ErrPartialMerge && sErr.Details != nil {
		if b, mErr := json.Marshal(sErr.Details); mErr == nil {
			msg += "\n" + string(b)
		}
	}
	return cli.Exit(msg, 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads at most limit bytes from stdin.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("stdin exceeds %d bytes", limit)
	}
	return strings.TrimSpace(string(data)), nil
}

// parseList splits a comma-separated string into trimmed, non-empty items.
func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			items = append(items, t)
		}
	}
	return items
}
