package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/jsonindex"
)

func newImportCmd(a *app) *cobra.Command {
	var takeSnapshot bool

	cmd := &cobra.Command{
		Use:   "import <area> <file.jsonl>",
		Short: "Bulk load newline-delimited JSON documents into an area",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			area, path := args[0], args[1]

			var in io.Reader = os.Stdin
			if path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			idx, err := a.openIndex(ctx, nil)
			if err != nil {
				return err
			}
			defer closeIndex(idx)

			res, err := importDocuments(ctx, idx, area, in, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if err := idx.Commit(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d documents into %s (%d failed)\n", res.imported, area, res.failed)

			if takeSnapshot {
				info, err := idx.TakeSnapshot(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "snapshot %s (%d bytes)\n", info.Name, info.Bytes)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&takeSnapshot, "snapshot", false, "take a snapshot after the import")
	return cmd
}

type importResult struct {
	imported int
	failed   int
}

// importDocuments creates one document per non-empty line. Lines that fail
// to index are counted and skipped; read errors abort.
func importDocuments(ctx context.Context, idx *jsonindex.Index, area string, in io.Reader, errOut io.Writer) (importResult, error) {
	var res importResult

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), maxDocumentBytes)

	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return res, err
		}
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		doc := make(json.RawMessage, len(raw))
		copy(doc, raw)

		if err := idx.Create(ctx, area, doc); err != nil {
			res.failed++
			fmt.Fprintf(errOut, "line %d: %v\n", line, err)
			continue
		}
		res.imported++
	}
	return res, sc.Err()
}
