package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"
)

func newSearchCmd(a *app) *cobra.Command {
	var (
		limit int
		count bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index and print hits as JSON lines",
		Long: `Search the index. Words are optional terms, "+word" is required,
"-word" is excluded and "field:word" restricts a word to a field.
An empty query or "*" matches every document.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			query := strings.Join(args, " ")

			idx, err := a.openIndex(ctx, nil)
			if err != nil {
				return err
			}
			defer closeIndex(idx)

			enc := json.NewEncoder(cmd.OutOrStdout())
			if count {
				n, err := idx.Count(ctx, query)
				if err != nil {
					return err
				}
				return enc.Encode(map[string]int{"count": n})
			}

			hits, err := idx.Search(ctx, query, limit)
			if err != nil {
				return err
			}
			for _, h := range hits {
				if err := enc.Encode(h); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of hits; 0 returns all")
	cmd.Flags().BoolVar(&count, "count", false, "print only the number of matching documents")
	return cmd
}
