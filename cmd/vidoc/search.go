package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/vidoc/internal/cli"
	"github.com/jackzampolin/vidoc/internal/convert"
	"github.com/jackzampolin/vidoc/internal/index"
)

var (
	searchDB    string
	searchLimit int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search recognized text of a converted video",
	Long: `Search the SQLite index written by 'vidoc convert --sqlite'.

The index is read from <out>/result/index.db unless --db is given.

Examples:
  vidoc search "eigenvalue"
  vidoc search "theorem 3" --db output/result/index.db -o json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := searchDB
		if path == "" {
			path = filepath.Join(cfgMgr.Get().Output.Dir, convert.ResultDir, index.DBFile)
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("%w: %s (convert with --sqlite first)", convert.ErrInputNotFound, path)
		}

		db, err := index.OpenSQLite(path)
		if err != nil {
			return err
		}
		defer db.Close()

		hits, err := db.Search(cmd.Context(), strings.Join(args, " "), searchLimit)
		if err != nil {
			return err
		}
		if output.Structured() {
			return cli.Output(output, hits)
		}
		if src, err := db.Meta(cmd.Context(), "source"); err == nil && src != "" {
			fmt.Printf("%s\n", src)
		}
		cli.PrintHits(os.Stdout, hits)
		return nil
	},
}

func init() {
	searchCmd.Flags().StringP("out", "d", "output", "output directory of the conversion")
	searchCmd.Flags().StringVar(&searchDB, "db", "", "path to index.db")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 50, "maximum hits")

	rootCmd.AddCommand(searchCmd)
}
