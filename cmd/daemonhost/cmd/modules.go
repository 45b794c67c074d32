package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/hippocms/daemon"
	"github.com/hippocms/daemon/repository"
	"github.com/spf13/cobra"
)

// NewModulesCommand creates the modules command, which lists the module
// entries of the repository and whether this host would load them.
func NewModulesCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List the modules declared in the repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile)
			if err != nil {
				return err
			}
			repo, err := repository.Open(cfg.Repository)
			if err != nil {
				return fmt.Errorf("open repository: %w", err)
			}
			session, err := repo.Login(AdminCredentials)
			if err != nil {
				return err
			}
			defer session.Close()

			entries, err := daemon.ReadModuleEntries(session, cfg.ModulesPath, nil)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tCLASS\tCMS ONLY\tCONFIG\tLOADED")
			for _, e := range entries {
				loaded := !e.CMSOnly || daemon.HostCategory(cfg.Host) == daemon.HostCMS
				fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%t\n", e.Name, e.ClassName, e.CMSOnly, e.HasModuleConfig, loaded)
			}
			return tw.Flush()
		},
	}
}
