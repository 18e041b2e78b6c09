package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/knovalab/knova/internal/service"
)

func newIngestCmd() *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "ingest <project-id> <file>...",
		Short: "Index files into a project",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, _, _, err := buildService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			var docs []service.IngestDocument
			for _, path := range args[1:] {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				docTitle := title
				if docTitle == "" {
					docTitle = path
				}
				docs = append(docs, service.IngestDocument{
					Title:      docTitle,
					Text:       string(data),
					SourcePath: path,
				})
			}

			resp, err := svc.Ingest(cmd.Context(), service.IngestRequest{
				ProjectID: args[0],
				Documents: docs,
			})
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(resp)
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Document title (default: file path)")
	return cmd
}
