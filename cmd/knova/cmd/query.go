package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/knovalab/knova/internal/service"
)

func newQueryCmd() *cobra.Command {
	var (
		mode    string
		topK    int
		noCache bool
	)

	cmd := &cobra.Command{
		Use:   "query <project-id> <query>",
		Short: "Search a project's knowledge base",
		Args:  cobra.ExactArgs(2),
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

			resp, err := svc.Query(cmd.Context(), service.QueryRequest{
				ProjectID: args[0],
				Query:     args[1],
				Mode:      mode,
				TopK:      topK,
				SkipCache: noCache,
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "hybrid", "Search mode: vector, keyword, hybrid, mmr")
	cmd.Flags().IntVar(&topK, "top-k", 0, "Number of results (0 = default)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Bypass the semantic cache")
	return cmd
}
