package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"tankobon/config"
	"tankobon/downloader"
	"tankobon/models"
	"tankobon/packager"
	"tankobon/parser"

	"github.com/spf13/cobra"
)

var (
	flagTitle  string
	flagFormat string
	flagOutput string
	flagComic  string
	flagRange  string
)

func init() {
	downloadCmd := &cobra.Command{
		Use:   "download [chapter identifiers...]",
		Short: "Download chapters in-process and write the packaged archive",
		Long: `Download chapters without the job queue.

Chapters are given as identifiers printed by "tankobon chapters", or picked
from a comic with --comic and an optional --range such as 1-12.5.`,
		RunE: runDownload,
	}
	downloadCmd.Flags().StringVarP(&flagSource, "source", "s", "mangadex", "source name or number")
	downloadCmd.Flags().StringVarP(&flagTitle, "title", "t", "", "comic title used in archive metadata")
	downloadCmd.Flags().StringVarP(&flagFormat, "format", "f", "cbz", "output format: cbz, pdf or epub")
	downloadCmd.Flags().StringVarP(&flagOutput, "output", "o", ".", "folder the archive is written to")
	downloadCmd.Flags().StringVar(&flagComic, "comic", "", "comic id to pick chapters from")
	downloadCmd.Flags().StringVar(&flagRange, "range", "", "chapter number range with --comic, e.g. 5-12")
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	format, ok := models.ParseFormat(flagFormat)
	if !ok || !packager.Supported(format) {
		return &downloader.UnsupportedFormatError{Format: models.Format(flagFormat)}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := config.NewServices(cfg)
	adapter, err := resolveSource(svc.Registry, flagSource)
	if err != nil {
		return err
	}

	ids := make([]models.ChapterIdentifier, 0, len(args))
	for _, a := range args {
		ids = append(ids, models.ChapterIdentifier(a))
	}
	if flagComic != "" {
		volumes, err := adapter.ListChapters(ctx, flagComic)
		if err != nil {
			return err
		}
		picked, err := selectChapters(volumes, flagRange)
		if err != nil {
			return err
		}
		ids = append(ids, picked...)
	}
	if len(ids) == 0 {
		return downloader.ErrEmptyBatch
	}

	if err := os.MkdirAll(flagOutput, 0o755); err != nil {
		return fmt.Errorf("cannot create output folder: %w", err)
	}

	bar := newBarSink(cmd.OutOrStdout(), fmt.Sprintf("%s (%d chapters)", adapter.Source(), len(ids)))
	workDir, err := svc.Manager.DownloadBatch(ctx, ids, adapter.Source(), bar)
	if err == nil {
		var bundle string
		bundle, err = packager.Pack(ctx, workDir, format, flagTitle, bar)
		if err == nil {
			bar.Done()
			return deliver(cmd.OutOrStdout(), cfg.DownloadDir, bundle, flagOutput, flagTitle)
		}
	}
	bar.Abort()
	if errors.Is(err, context.Canceled) {
		return errors.New("download interrupted")
	}
	return err
}

// deliver moves the bundle into outDir and removes its batch directory.
func deliver(w io.Writer, downloadDir, bundle, outDir, title string) error {
	name := packager.BundleName
	if strings.TrimSpace(title) != "" {
		name = parser.SanitizeLabel(title) + ".zip"
	}
	dest := filepath.Join(outDir, name)

	if err := moveFile(bundle, dest); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := downloader.Cleanup(downloadDir, bundle); err != nil {
		log.Printf("[Download] ⚠️ %v", err)
	}

	successStyle.Fprint(w, "✓ Saved ")
	pathStyle.Fprintln(w, dest)
	return nil
}

// moveFile renames src to dest, copying when they sit on different devices.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

// selectChapters picks the identifiers of every listed chapter whose
// number falls inside spec ("", "7", "5-12", "10-", "-3"). Chapters
// without a numeric number are only included when spec is empty.
func selectChapters(volumes []models.VolumeListing, spec string) ([]models.ChapterIdentifier, error) {
	lo, hi, err := parseRange(spec)
	if err != nil {
		return nil, err
	}

	var labels []string
	byLabel := make(map[string]models.ChapterIdentifier)
	for _, v := range volumes {
		for _, ch := range v.Chapters {
			if spec != "" {
				n, err := strconv.ParseFloat(ch.Chapter, 64)
				if err != nil || n < lo || n > hi {
					continue
				}
			}
			if _, dup := byLabel[ch.Chapter]; dup {
				continue
			}
			byLabel[ch.Chapter] = models.NewChapterIdentifier(ch.ID, ch.Chapter)
			labels = append(labels, ch.Chapter)
		}
	}

	parser.SortNumeric(labels)
	out := make([]models.ChapterIdentifier, 0, len(labels))
	for _, l := range labels {
		out = append(out, byLabel[l])
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no chapters match %q", spec)
	}
	return out, nil
}

func parseRange(spec string) (lo, hi float64, err error) {
	spec = strings.TrimSpace(spec)
	lo, hi = -1, 1e9
	if spec == "" {
		return lo, hi, nil
	}

	from, to, isRange := strings.Cut(spec, "-")
	if !isRange {
		to = from
	}
	if from = strings.TrimSpace(from); from != "" {
		if lo, err = strconv.ParseFloat(from, 64); err != nil {
			return 0, 0, fmt.Errorf("invalid range %q", spec)
		}
	}
	if to = strings.TrimSpace(to); to != "" {
		if hi, err = strconv.ParseFloat(to, 64); err != nil {
			return 0, 0, fmt.Errorf("invalid range %q", spec)
		}
	}
	if lo > hi {
		return 0, 0, fmt.Errorf("invalid range %q: start is after end", spec)
	}
	return lo, hi, nil
}
