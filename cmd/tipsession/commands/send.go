package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// send <peer> <message>: deliver a message through the full pipeline.
func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <peer> <message>",
		Short: "Send a message to a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := rig.client.SendMessage(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("send failed: %s", res.Error)
			}
			if res.Warning != "" {
				fmt.Printf("accepted with warning: %s\n", res.Warning)
				return nil
			}
			fmt.Printf("delivered, message id %s\n", res.MessageID)
			return nil
		},
	}
}
