package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// status: print the worker's connection and cache snapshot.
func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connection state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := rig.client.Debug(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("state: %s\n", st.Connected)
			fmt.Printf("address: %s\n", st.Address)
			fmt.Printf("cached conversations: %d\n", st.CachedConversations)
			fmt.Printf("remaining connect attempts: %d\n", st.RemainingAttempts)
			return nil
		},
	}
}
