// Package commands implements the tipsession demo CLI. It wires the host
// and the isolated context over an in-process pipe, with a loopback
// messaging network and an in-memory mirror, so the full connect/send/
// history flow can be exercised from a terminal.
package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/tipsession/config"
	"github.com/opd-ai/tipsession/host"
	"github.com/opd-ai/tipsession/mirror"
	"github.com/opd-ai/tipsession/network"
	"github.com/opd-ai/tipsession/relay"
	"github.com/opd-ai/tipsession/wire"
	"github.com/opd-ai/tipsession/worker"
)

var (
	address    string
	kind       string
	restricted bool
	latency    time.Duration
	verbose    bool

	rig *demoRig
)

// demoRig is the assembled host+worker pair the subcommands talk to.
type demoRig struct {
	client *worker.Client
	store  *mirror.MemoryStore
	cancel context.CancelFunc
}

func Execute() error {
	root := &cobra.Command{
		Use:           "tipsession",
		Short:         "Resilient messaging session manager demo",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.WarnLevel)
			}

			profile, err := config.Load("")
			if err != nil {
				return err
			}
			if restricted {
				profile.SupportsPersistentStorage = false
			}

			rig = buildRig(profile)
			ctx := cmd.Context()
			if _, err := rig.client.InitClient(ctx, address, kind); err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if rig != nil {
				rig.cancel()
			}
		},
	}

	root.PersistentFlags().StringVar(&address, "address", "0xDEMO000000000000000000000000000000000001", "wallet address")
	root.PersistentFlags().StringVar(&kind, "kind", "eoa", "account kind: eoa or contract")
	root.PersistentFlags().BoolVar(&restricted, "restricted", false, "simulate a storage-restricted environment")
	root.PersistentFlags().DurationVar(&latency, "latency", 50*time.Millisecond, "simulated network latency")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(sendCmd(), historyCmd(), warmupCmd(), statusCmd())
	return root.Execute()
}

// buildRig assembles both sides of the isolation boundary over a pipe.
func buildRig(profile config.DeploymentProfile) *demoRig {
	hostEnd, workerEnd := wire.Pipe(16)
	store := mirror.NewMemoryStore()

	hostMux := relay.NewMux(hostEnd)
	host.NewResponder(hostMux, newDemoSigner(address), store)
	client := worker.NewClient(hostMux)

	w := worker.New(workerEnd, network.NewLoopback(latency), profile)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hostMux.Run(ctx) }()
	go func() { _ = w.Run(ctx) }()

	return &demoRig{client: client, store: store, cancel: cancel}
}
