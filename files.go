package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mtuomi/dropbox-go/internal/table"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List files and folders",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLs,
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <remote-path> [local-path]",
		Short: "Download a CSV file",
		Long: `Download a remote CSV file. With a local path, the raw bytes are
written to that file. Without one, the CSV is parsed and printed: as an
aligned table on a terminal, as raw CSV when piped.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runGet,
	}
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <local-path> [remote-path]",
		Short: "Upload a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runPut,
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or folder",
		Args:  cobra.ExactArgs(1),
		RunE:  runRm,
	}
}

func runLs(cmd *cobra.Command, args []string) error {
	remotePath := "/"
	if len(args) > 0 {
		remotePath = args[0]
	}

	ctx := cmd.Context()
	client := newClient(ctx, buildLogger())

	entries, err := client.ListFolder(ctx, remotePath)
	if err != nil {
		return fmt.Errorf("listing %q: %w", remotePath, err)
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(entries)
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		size := ""
		modified := ""

		if !e.IsFolder() {
			size = formatSize(int64(e.Size))
			modified = formatTime(e.ServerModified)
		}

		rows = append(rows, []string{e.Tag, size, modified, e.Name})
	}

	printTable(os.Stdout, []string{"TYPE", "SIZE", "MODIFIED", "NAME"}, rows)

	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	remotePath := args[0]
	ctx := cmd.Context()
	client := newClient(ctx, buildLogger())

	// Explicit local destination: write the raw bytes.
	if len(args) == 2 {
		data, _, err := client.Download(ctx, remotePath)
		if err != nil {
			return err
		}

		localPath := args[1]
		if err := os.WriteFile(localPath, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", localPath, err)
		}

		statusf(flagQuiet, "Downloaded %s (%s)\n", localPath, formatSize(int64(len(data))))

		return nil
	}

	t, err := client.DownloadTable(ctx, remotePath)
	if err != nil {
		return err
	}

	return printTableData(t)
}

// printTableData renders a parsed CSV table to stdout: JSON objects
// with --json, aligned columns on a terminal, raw CSV when piped.
func printTableData(t *table.Table) error {
	if flagJSON {
		return printTableJSON(t)
	}

	if stdoutIsTTY() {
		printTable(os.Stdout, t.Columns, t.Rows)
		return nil
	}

	return t.Write(os.Stdout)
}

// printTableJSON renders each row as an object keyed by column name.
func printTableJSON(t *table.Table) error {
	out := make([]map[string]string, 0, t.Len())

	for _, row := range t.Rows {
		obj := make(map[string]string, len(t.Columns))
		for i, col := range t.Columns {
			if i < len(row) {
				obj[col] = row[i]
			}
		}

		out = append(out, obj)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

func runPut(cmd *cobra.Command, args []string) error {
	localPath := args[0]

	remotePath := defaultRemotePath(localPath)
	if len(args) == 2 {
		remotePath = args[1]
	}

	ctx := cmd.Context()
	client := newClient(ctx, buildLogger())

	meta, err := client.Upload(ctx, localPath, remotePath)
	if err != nil {
		return err
	}

	statusf(flagQuiet, "Uploaded %s (%s, rev %s)\n",
		meta.PathDisplay, formatSize(int64(meta.Size)), meta.Rev)

	return nil
}

func runRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client := newClient(ctx, buildLogger())

	meta, err := client.Delete(ctx, args[0])
	if err != nil {
		return err
	}

	statusf(flagQuiet, "Deleted %s\n", meta.PathDisplay)

	return nil
}

// defaultRemotePath maps a local file to a root-level remote path.
func defaultRemotePath(localPath string) string {
	return "/" + strings.TrimPrefix(filepath.Base(localPath), "/")
}
