package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/knovalab/knova/internal/project"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}
	cmd.AddCommand(newProjectCreateCmd())
	cmd.AddCommand(newProjectListCmd())
	cmd.AddCommand(newProjectDeleteCmd())
	cmd.AddCommand(newProjectKeyCmd())
	return cmd
}

func newProjectCreateCmd() *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
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

			p, err := svc.CreateProject(cmd.Context(), project.CreateParams{
				Name:        args[0],
				Description: description,
			})
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(p)
		},
	}

	cmd.Flags().StringVar(&description, "description", "", "Project description")
	return cmd
}

func newProjectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
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

			projects, err := svc.ListProjects()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tMODEL\tCREATED")
			for _, p := range projects {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					p.ID, p.Name, p.EmbeddingModel, p.CreatedAt.Format("2006-01-02"))
			}
			return w.Flush()
		},
	}
}

func newProjectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project and everything in it",
		Args:  cobra.ExactArgs(1),
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

			if err := svc.DeleteProject(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("deleted", args[0])
			return nil
		},
	}
}

func newProjectKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage API keys",
	}

	var scopes []string
	create := &cobra.Command{
		Use:   "create <project-id> <name>",
		Short: "Create an API key (the raw key is printed exactly once)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, manager, _, err := buildService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			params := project.KeyParams{Name: args[1]}
			for _, s := range scopes {
				params.Scopes = append(params.Scopes, project.Scope(s))
			}
			raw, key, err := manager.CreateAPIKey(cmd.Context(), args[0], params)
			if err != nil {
				return err
			}
			fmt.Printf("key id:  %s\nraw key: %s\n", key.ID, raw)
			fmt.Println("store the raw key now; it cannot be shown again")
			return nil
		},
	}
	create.Flags().StringSliceVar(&scopes, "scope", []string{"read"}, "Scopes to grant (read, write, admin)")

	list := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List a project's API keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, manager, _, err := buildService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			keys, err := manager.ListAPIKeys(args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSCOPES\tCREATED\tREVOKED")
			for _, k := range keys {
				revoked := ""
				if k.RevokedAt != nil {
					revoked = k.RevokedAt.Format("2006-01-02")
				}
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n",
					k.ID, k.Name, k.Scopes, k.CreatedAt.Format("2006-01-02"), revoked)
			}
			return w.Flush()
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <project-id> <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, manager, _, err := buildService(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer svc.Close()
			return manager.RevokeAPIKey(cmd.Context(), args[0], args[1])
		},
	}

	cmd.AddCommand(create)
	cmd.AddCommand(list)
	cmd.AddCommand(revoke)
	return cmd
}
