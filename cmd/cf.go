package cmd

import (
	"errors"
	"strings"

	"tankobon/cf"

	"github.com/spf13/cobra"
)

var (
	flagClipboard bool
	flagFile      string
)

func init() {
	cfCmd := &cobra.Command{
		Use:   "cf",
		Short: "Manage captured challenge bypass data",
	}

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import bypass data captured in a browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store := bypassStore()
			var (
				domain string
				err    error
			)
			switch {
			case flagFile != "":
				domain, err = cf.ImportFromFile(store, flagFile)
			case flagClipboard:
				domain, err = cf.ImportFromClipboard(store)
			default:
				return errors.New("give --file or --clipboard")
			}
			if err != nil {
				return err
			}
			successStyle.Fprintf(cmd.OutOrStdout(), "✓ Imported bypass data for %s\n", domain)
			return nil
		},
	}
	importCmd.Flags().BoolVar(&flagClipboard, "clipboard", false, "read the captured JSON from the clipboard")
	importCmd.Flags().StringVar(&flagFile, "file", "", "read the captured JSON from a file")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored bypass data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store := bypassStore()
			domains, err := store.List()
			if err != nil {
				return err
			}
			if len(domains) == 0 {
				warningStyle.Fprintln(cmd.OutOrStdout(), "No bypass data stored")
				return nil
			}

			rows := make([][]string, 0, len(domains))
			for _, d := range domains {
				state := "✓ usable"
				if _, err := store.Load(d); err != nil {
					state = "✗ " + err.Error()
				}
				rows = append(rows, []string{d, state})
			}
			return printTable(cmd.OutOrStdout(), []string{"Domain", "State"}, rows)
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <domain>",
		Short: "Delete stored bypass data for a domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			domain := strings.ToLower(strings.TrimSpace(args[0]))
			if err := bypassStore().Delete(domain); err != nil {
				return err
			}
			successStyle.Fprintf(cmd.OutOrStdout(), "✓ Deleted bypass data for %s\n", domain)
			return nil
		},
	}

	cfCmd.AddCommand(importCmd, listCmd, deleteCmd)
	rootCmd.AddCommand(cfCmd)
}

func bypassStore() *cf.BypassStore {
	return cf.NewBypassStore(cfg.BypassDir(), 0)
}
