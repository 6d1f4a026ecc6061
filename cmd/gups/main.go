package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"bagelbfs/comm"
	"bagelbfs/gups"
	"bagelbfs/util"
)

var (
	cfg         gups.Config
	clusterFile string
	procID      int
	logLevel    string

	rootCmd = &cobra.Command{
		Use:          "gups",
		Short:        "GUPS benchmark for the parallel-for and buffered exchange",
		SilenceUsage: true,
		RunE:         runGUPS,
	}
)

func init() {
	f := rootCmd.Flags()
	f.IntVar(&cfg.Log2SizeA, "log2_size_a", 30, "log2 size of the target array")
	f.IntVar(&cfg.Log2SizeB, "log2_size_b", 20, "log2 size of the index array")
	f.IntVar(&cfg.Fibers, "fibers", 0, "goroutines in the parallel for (0: default)")
	f.IntVar(&cfg.FlushThreshold, "flush_threshold", 0, "values buffered per peer before a send (0: default)")
	f.BoolVar(&cfg.Compress, "compress", false, "snappy-compress exchange batches")
	f.Int64Var(&cfg.Seed, "seed", gups.DefaultSeed, "seed for the index array")
	f.StringVar(&clusterFile, "cluster", "", "cluster config file for a distributed run")
	f.IntVar(&procID, "proc", 0, "this process's index in the cluster config")
	f.StringVar(&logLevel, "log_level", "info", "log level")
}

func runGUPS(cmd *cobra.Command, args []string) error {
	_, closeLog, err := util.InitLogger("gups", logLevel, "")
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var dc comm.Control = comm.NewLocalGroup(1)[0]
	if clusterFile != "" {
		clusterCfg, err := util.ReadClusterConfig(clusterFile)
		util.CheckErr(err, "Error reading cluster config %s", clusterFile)
		cluster, err := comm.JoinCluster(ctx, clusterCfg, procID)
		util.CheckErr(err, "Error joining cluster as proc %d", procID)
		defer cluster.Close()
		dc = cluster
	}

	res, err := gups.Run(ctx, dc, cfg)
	if err != nil {
		return err
	}
	if err := dc.Barrier(ctx); err != nil {
		log.Warn().Err(err).Msg("final barrier failed")
	}

	if dc.ProcID() == 0 {
		fmt.Printf("\ntotal_bytes_sent: %g GB\n", res.GBSent)
		fmt.Printf("total_msgs_sent: %d\n", res.MessagesSent)
		fmt.Printf("elapsed: %.3f s\n", res.ElapsedSeconds)
		fmt.Printf("sum(A): %d\n", res.SumA)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
