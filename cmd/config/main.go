package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bagelbfs/util"
)

var (
	numProcs   int
	host       string
	basePort   int
	hbBasePort int
	hbOffset   int

	rootCmd = &cobra.Command{
		Use:          "config",
		Short:        "Generate and maintain cluster config files",
		SilenceUsage: true,
	}
	genCmd = &cobra.Command{
		Use:     "gen <file>",
		Short:   "Write a cluster config for n processes on one host",
		Example: "  config gen config/cluster.json --procs 4 --base_port 7001 --hb_base_port 8001",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := util.GenerateClusterConfig(numProcs, host, basePort, hbBasePort)
			if err != nil {
				return err
			}
			if err := util.WriteJSONConfig(args[0], cfg); err != nil {
				return err
			}
			fmt.Printf("wrote %s with %d procs\n", args[0], len(cfg.Procs))
			return nil
		},
	}
	syncCmd = &cobra.Command{
		Use:   "sync <file>",
		Short: "Derive heartbeat addresses from the RPC addresses (port + offset)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := util.SynchronizeConfig(args[0], hbOffset); err != nil {
				return fmt.Errorf("failed to synchronize config file: %w", err)
			}
			return nil
		},
	}
)

func init() {
	genCmd.Flags().IntVar(&numProcs, "procs", 2, "number of processes")
	genCmd.Flags().StringVar(&host, "host", "127.0.0.1", "host every process runs on")
	genCmd.Flags().IntVar(&basePort, "base_port", 7001, "RPC port of process 0")
	genCmd.Flags().IntVar(&hbBasePort, "hb_base_port", 0, "heartbeat port of process 0 (0: no heartbeats)")
	syncCmd.Flags().IntVar(&hbOffset, "offset", 1000, "heartbeat port offset from the RPC port")
	rootCmd.AddCommand(genCmd, syncCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
