package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kaiwa0/kaiwa/internal/config"
	"github.com/kaiwa0/kaiwa/session"
)

// newRoot assembles the command tree.
func newRoot(cfg *config.Config, store *session.Store) *cobra.Command {
	root := &cobra.Command{
		Use:   "kaiwa",
		Short: "Conversation persistence on Alibaba Cloud Tablestore",
		Long: `Kaiwa stores agent conversations on Alibaba Cloud Tablestore (OTS):
sessions, their ordered event logs, and app/user/session state.

The CLI covers the operational surface: provisioning the backing tables
and inspecting or cleaning up stored conversations. Agent frameworks use
the session package directly.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		NewInitCmd(store),
		NewSessionsCmd(store),
		NewVersionCmd(cfg),
	)
	return root
}
