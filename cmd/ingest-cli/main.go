package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	version = "dev"

	serverURL   string
	tenantID    string
	verbose     bool
	concurrency int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "docqa-cli",
	Short:   "Manage documents in a docqa server",
	Version: version,
}

var uploadCmd = &cobra.Command{
	Use:   "upload [files...]",
	Short: "Upload documents for ingestion",
	Long: `Upload one or more pdf, txt or md files to the server.

Files are uploaded concurrently; re-uploading an unchanged file is a no-op
on the server side.

Examples:
  # Upload a single file
  docqa-cli upload report.pdf

  # Upload a directory's worth of notes with higher concurrency
  docqa-cli upload notes/*.md --concurrency 8`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tenant's documents",
	RunE:  runList,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [document-id]",
	Short: "Delete a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9020", "server base URL")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", "", "tenant id (required)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	uploadCmd.Flags().IntVar(&concurrency, "concurrency", 4, "number of concurrent uploads")

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func requireTenant() error {
	if tenantID == "" {
		return fmt.Errorf("--tenant is required")
	}
	return nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	if err := requireTenant(); err != nil {
		return err
	}
	logger := newLogger()

	client := &http.Client{Timeout: 5 * time.Minute}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(concurrency)
	for _, path := range args {
		g.Go(func() error {
			if err := uploadFile(ctx, client, path); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			logger.Info("uploaded", slog.String("file", path))
			return nil
		})
	}
	return g.Wait()
}

func uploadFile(ctx context.Context, client *http.Client, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := part.Write(content); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serverURL+"/v1/documents", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	if err := requireTenant(); err != nil {
		return err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, serverURL+"/v1/documents", nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(msg))
	}

	var out struct {
		Documents []struct {
			ID               string `json:"id"`
			OriginalFilename string `json:"original_filename"`
			Status           string `json:"status"`
			ChunkCount       int    `json:"chunk_count"`
			VectorsIndexed   bool   `json:"vectors_indexed"`
		} `json:"documents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}

	for _, doc := range out.Documents {
		fmt.Printf("%s  %-40s  %-10s  chunks=%d  vectors=%t\n",
			doc.ID, doc.OriginalFilename, doc.Status, doc.ChunkCount, doc.VectorsIndexed)
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	if err := requireTenant(); err != nil {
		return err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodDelete, serverURL+"/v1/documents/"+args[0], nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(msg))
	}
	fmt.Println("deleted", args[0])
	return nil
}
