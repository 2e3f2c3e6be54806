package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"rocket-nested/internal/engine"
)

var (
	applyEntity string
	applyID     string
	applyCreate bool
	applyFile   string
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Write a nested record tree from a JSON or YAML document",
	Long: `Apply reads one record with its nested relations and writes it in a
single transaction. Without --id a new record is created; with --id the
stored record is updated. --create inserts every record in the tree as new.

Example:
  rocket-nested apply --entity region --file region.yaml
  rocket-nested apply --entity region --id 3 --file - < patch.json`,
	Args: cobra.NoArgs,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringVar(&applyEntity, "entity", "", "entity name")
	applyCmd.Flags().StringVar(&applyID, "id", "", "primary key of the record to update")
	applyCmd.Flags().BoolVar(&applyCreate, "create", false, "insert every record in the tree as new")
	applyCmd.Flags().StringVarP(&applyFile, "file", "f", "-", "input document, - for stdin")
	_ = applyCmd.MarkFlagRequired("entity")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	input, err := readDocument(cmd.InOrStdin(), applyFile)
	if err != nil {
		return err
	}

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	writer := engine.NewWriter(rt.store, rt.reg)
	rec := engine.NewRecord(applyEntity)
	if applyID != "" {
		if rec, err = writer.Find(ctx, applyEntity, applyID); err != nil {
			return err
		}
	}

	if applyCreate {
		err = writer.CreateAll(ctx, rec, input)
	} else {
		err = writer.SaveAll(ctx, rec, input)
	}
	if err != nil {
		return reportWriteError(cmd.ErrOrStderr(), err)
	}

	out, err := json.MarshalIndent(rec.Fields, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// readDocument decodes a JSON or YAML mapping. JSON is valid YAML, so one
// decoder serves both.
func readDocument(stdin io.Reader, path string) (map[string]any, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		r = f
	}

	var doc map[string]any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("decode input: empty document")
	}
	return doc, nil
}

func reportWriteError(w io.Writer, err error) error {
	var appErr *engine.AppError
	if !errors.As(err, &appErr) || len(appErr.Details) == 0 {
		return err
	}
	for _, d := range appErr.Details {
		fmt.Fprintf(w, "  %s: %s (%s)\n", d.Field, d.Message, d.Rule)
	}
	return err
}
