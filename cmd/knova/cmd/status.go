package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Probe every project backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, _, _, err := buildService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			statuses := svc.Status(cmd.Context())
			if len(statuses) == 0 {
				fmt.Println("no projects")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROJECT\tNAME\tHEALTHY\tLATENCY(MS)\tDOCS")
			for _, s := range statuses {
				fmt.Fprintf(w, "%s\t%s\t%t\t%.2f\t%d\n",
					s.ProjectID, s.Name, s.Healthy, s.LatencyMS, s.Documents)
			}
			return w.Flush()
		},
	}
}
