package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"tankobon/config"
	"tankobon/downloader"
	"tankobon/models"

	"github.com/spf13/cobra"
)

var flagSource string

func init() {
	searchCmd := &cobra.Command{
		Use:   "search <title>",
		Short: "Search a source for comics",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}
	searchCmd.Flags().StringVarP(&flagSource, "source", "s", "mangadex", "source name or number")

	chaptersCmd := &cobra.Command{
		Use:   "chapters <comic id>",
		Short: "List the chapters of a comic with their download identifiers",
		Args:  cobra.ExactArgs(1),
		RunE:  runChapters,
	}
	chaptersCmd.Flags().StringVarP(&flagSource, "source", "s", "mangadex", "source name or number")

	sourcesCmd := &cobra.Command{
		Use:   "sources",
		Short: "List the available sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rows := [][]string{}
			registry := config.NewServices(cfg).Registry
			for _, src := range registry.Sources() {
				rows = append(rows, []string{strconv.Itoa(int(src)), src.String()})
			}
			return printTable(cmd.OutOrStdout(), []string{"#", "Source"}, rows)
		},
	}

	rootCmd.AddCommand(searchCmd, chaptersCmd, sourcesCmd)
}

// resolveSource parses raw and finds its adapter.
func resolveSource(registry *downloader.Registry, raw string) (downloader.SourceAdapter, error) {
	src, ok := models.ParseSource(raw)
	if !ok {
		return nil, fmt.Errorf("unknown source %q", raw)
	}
	return registry.Adapter(src)
}

func runSearch(cmd *cobra.Command, args []string) error {
	svc := config.NewServices(cfg)
	adapter, err := resolveSource(svc.Registry, flagSource)
	if err != nil {
		return err
	}

	title := strings.Join(args, " ")
	comics, err := adapter.Search(cmd.Context(), title)
	if err != nil {
		return err
	}
	if len(comics) == 0 {
		warningStyle.Fprintf(cmd.OutOrStdout(), "No comics found for %q on %s\n", title, adapter.Source())
		return nil
	}

	rows := make([][]string, 0, len(comics))
	for _, c := range comics {
		rows = append(rows, []string{c.ID, displayTitle(c.Title), strings.Join(c.Languages, ",")})
	}
	headerStyle.Fprintf(cmd.OutOrStdout(), "%d results on %s\n", len(comics), adapter.Source())
	return printTable(cmd.OutOrStdout(), []string{"ID", "Title", "Languages"}, rows)
}

// displayTitle prefers the English title, then any other in key order.
func displayTitle(titles map[string]string) string {
	if t, ok := titles["en"]; ok && t != "" {
		return t
	}
	keys := make([]string, 0, len(titles))
	for k := range titles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if titles[k] != "" {
			return titles[k]
		}
	}
	return "(untitled)"
}

func runChapters(cmd *cobra.Command, args []string) error {
	svc := config.NewServices(cfg)
	adapter, err := resolveSource(svc.Registry, flagSource)
	if err != nil {
		return err
	}

	volumes, err := adapter.ListChapters(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	rows := chapterRows(volumes)
	if len(rows) == 0 {
		warningStyle.Fprintf(cmd.OutOrStdout(), "No chapters listed for %s\n", args[0])
		return nil
	}
	return printTable(cmd.OutOrStdout(), []string{"Volume", "Chapter", "Identifier"}, rows)
}

func chapterRows(volumes []models.VolumeListing) [][]string {
	var rows [][]string
	for _, v := range volumes {
		for _, ch := range v.Chapters {
			rows = append(rows, []string{v.Volume, ch.Chapter, string(models.NewChapterIdentifier(ch.ID, ch.Chapter))})
		}
	}
	return rows
}
