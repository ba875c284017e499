package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// warmup <peer>: pre-establish a conversation ahead of the first send.
func warmupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "warmup <peer>",
		Short: "Pre-establish a conversation with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := rig.client.Warmup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			switch {
			case res.Cached:
				fmt.Println("conversation already cached")
			case res.Warning != "":
				fmt.Printf("warmup warning: %s\n", res.Warning)
			default:
				fmt.Println("conversation warmed up")
			}
			return nil
		},
	}
}
