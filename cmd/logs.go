package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nxadm/tail"
	"github.com/spf13/cobra"
)

var (
	flagFollow bool
	flagLines  int
	flagGrep   string
)

func init() {
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Print or follow the log file",
		Args:  cobra.NoArgs,
		RunE:  runLogs,
	}
	logsCmd.Flags().BoolVarP(&flagFollow, "follow", "f", false, "keep printing new lines")
	logsCmd.Flags().IntVarP(&flagLines, "lines", "n", 1000, "how many trailing lines to print")
	logsCmd.Flags().StringVar(&flagGrep, "grep", "", "only print lines containing this text (case-insensitive)")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, _ []string) error {
	path := cfg.LogPath()
	out := cmd.OutOrStdout()

	if err := printLastLines(out, path, flagLines, flagGrep); err != nil {
		return err
	}
	if !flagFollow {
		return nil
	}

	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to follow %s: %w", path, err)
	}
	defer t.Cleanup()

	for {
		select {
		case <-cmd.Context().Done():
			return t.Stop()
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				return line.Err
			}
			if matches(line.Text, flagGrep) {
				fmt.Fprintln(out, line.Text)
			}
		}
	}
}

// printLastLines prints up to n trailing lines of path that match grep.
func printLastLines(w io.Writer, path string, n int, grep string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	ring := make([]string, 0, n)
	for scanner.Scan() {
		line := scanner.Text()
		if !matches(line, grep) || n <= 0 {
			continue
		}
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading log file: %w", err)
	}

	for _, line := range ring {
		fmt.Fprintln(w, line)
	}
	return nil
}

func matches(line, grep string) bool {
	return grep == "" || strings.Contains(strings.ToLower(line), strings.ToLower(grep))
}
