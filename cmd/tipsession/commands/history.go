package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// history: print the merged network+mirror conversation history.
func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show merged conversation history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := rig.client.History(cmd.Context())
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				fmt.Println("no messages")
				return nil
			}
			for _, m := range msgs {
				fmt.Printf("%s  %s -> %s  %s\n", m.SentAt.Format("15:04:05"), m.SenderID, m.RecipientID, m.Content)
			}
			return nil
		},
	}
}
