package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/docchat/internal/config"
)

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a document to the server",
	Long: `Upload a document to the server.

With --extract the document is also chunked and indexed, making it
immediately available for questions.

Examples:
  docchat upload report.pdf
  docchat upload notes.txt --extract`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runExtract, _ := cmd.Flags().GetBool("extract")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		resp, err := client.postFile(ctx, "/api/upload", args[0])
		if err != nil {
			return err
		}

		var uploaded struct {
			ID       string `json:"id"`
			FilePath string `json:"filePath"`
		}
		if err := decodeJSON(resp, &uploaded); err != nil {
			return err
		}
		printSuccess("Uploaded %s as document %s", args[0], uploaded.ID)

		if !runExtract {
			return nil
		}

		printStep("Extracting and indexing...")
		extractResp, err := client.post(ctx, "/api/extract", map[string]string{"filePath": uploaded.FilePath})
		if err != nil {
			return err
		}

		var extracted struct {
			PDFID  string `json:"pdfId"`
			Chunks int    `json:"chunks"`
		}
		if err := decodeJSON(extractResp, &extracted); err != nil {
			return err
		}
		if extracted.Chunks == 0 {
			printWarning("Document %s had no extractable text", extracted.PDFID)
			return nil
		}
		printSuccess("Indexed %d chunks for document %s", extracted.Chunks, extracted.PDFID)
		return nil
	},
}

func init() {
	uploadCmd.Flags().Bool("extract", false, "extract and index the document after upload")
}

// --- extract ---

var extractCmd = &cobra.Command{
	Use:   "extract <server-file-path>",
	Short: "Extract and index a previously uploaded document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/extract", map[string]string{"filePath": args[0]})
		if err != nil {
			return err
		}

		var extracted struct {
			PDFID  string `json:"pdfId"`
			Chunks int    `json:"chunks"`
		}
		if err := decodeJSON(resp, &extracted); err != nil {
			return err
		}

		if extracted.Chunks == 0 {
			printWarning("Document %s had no extractable text", extracted.PDFID)
			return nil
		}
		printSuccess("Indexed %d chunks for document %s", extracted.Chunks, extracted.PDFID)
		return nil
	},
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <document-id> <question>",
	Short: "Ask a question about an indexed document",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args[1:], " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/ask", map[string]string{
			"pdfId":    args[0],
			"question": question,
		})
		if err != nil {
			return err
		}

		var answered struct {
			Answer string `json:"answer"`
		}
		if err := decodeJSON(resp, &answered); err != nil {
			return err
		}

		fmt.Println(answered.Answer)
		return nil
	},
}

// --- documents ---

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List uploaded documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/documents")
		if err != nil {
			return err
		}

		var docs []struct {
			ID         string `json:"id"`
			SourceName string `json:"sourceName"`
			Status     string `json:"status"`
			Chunks     int    `json:"chunks"`
			Turns      int    `json:"turns"`
		}
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Println("No documents found.")
			return nil
		}

		for _, d := range docs {
			fmt.Printf("%s  %-12s  %s  (%d chunks, %d turns)\n",
				colorize(colorCyan, d.ID[:8]),
				d.Status,
				d.SourceName,
				d.Chunks,
				d.Turns,
			)
		}
		return nil
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show docchat system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func showStatus() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Check the embedding sidecar.
	embedResp, err := client.Get(cfg.Embedding.BaseURL + "/health")
	if err != nil {
		printStatus("Embedding service", "not running")
	} else {
		embedResp.Body.Close()
		printStatus("Embedding service", "running at %s", cfg.Embedding.BaseURL)
	}

	printStatus("Index backend", "%s", cfg.Index.Backend)
	printStatus("Collection", "%s (D=%d)", cfg.Index.Collection, cfg.Embedding.Dimension)

	if running {
		docsResp, err := client.Get(serverURL + "/api/documents")
		if err == nil {
			var docs []struct {
				Status string `json:"status"`
			}
			if decodeJSON(docsResp, &docs) == nil {
				completed := 0
				for _, d := range docs {
					if d.Status == "completed" {
						completed++
					}
				}
				printStatus("Documents", "%d (%d indexed)", len(docs), completed)
			}
		}
	}

	printStatus("Upload dir", "%s", cfg.Ingest.UploadDir)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
