package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"bagelbfs/bagel"
	"bagelbfs/bfs"
	"bagelbfs/comm"
	"bagelbfs/database"
	"bagelbfs/telemetry"
	"bagelbfs/util"
)

var (
	graphPath       string
	sqliteGraph     string
	sqlTable        string
	format          string
	sourceFlags     []string
	maxDegreeSource bool
	directed        bool
	engine          string
	powerlaw        uint64
	seed            int64
	savePrefix      string
	saveGzip        bool
	partitions      int
	workers         int
	clusterFile     string
	procID          int
	statusAddr      string
	otlpEndpoint    string
	logLevel        string
	logFile         string

	rootCmd = &cobra.Command{
		Use:   "bfs [graph] [source ...]",
		Short: "Breadth-first search over a graph with the bagel engine",
		Long: `Computes a breadth-first spanning forest: every vertex reachable from
a source records the id of its parent on a shortest path.

The graph comes from --graph, --sqlite, --powerlaw, or the first positional
argument when none of those is set. Sources may be given with --source or
as the remaining positional arguments. With no source and no
--max_degree_source, vertex 0 is used.`,
		Example: `  bfs --graph web-Google.txt --format snap --source 0 --saveprefix out/bfs
  bfs twitter/bintsv4/ --format bintsv4 --max_degree_source
  bfs --powerlaw 1000000 --max_degree_source --engine asynchronous`,
		SilenceUsage: true,
		RunE:         runBFS,
	}
)

func init() {
	f := rootCmd.Flags()
	f.StringVar(&graphPath, "graph", "", "graph file or directory of files")
	f.StringVar(&format, "format", bagel.FormatAdj, "graph format: tsv, snap, adj or bintsv4")
	f.StringVar(&sqliteGraph, "sqlite", "", "load the graph from this sqlite adjacency database")
	f.StringVar(&sqlTable, "sql_table", database.DefaultTableName, "adjacency table for --sqlite")
	f.StringSliceVar(&sourceFlags, "source", nil, "source vertex id (repeatable)")
	f.BoolVar(&maxDegreeSource, "max_degree_source", false, "add the vertex with the highest degree as a source")
	f.BoolVar(&directed, "directed", false, "follow out-edges only")
	f.StringVar(&engine, "engine", string(bagel.Synchronous), "engine type: synchronous or asynchronous")
	f.Uint64Var(&powerlaw, "powerlaw", 0, "generate a synthetic power-law graph of this many vertices instead of loading one")
	f.Int64Var(&seed, "seed", 0, "seed for --powerlaw")
	f.StringVar(&savePrefix, "saveprefix", "", "write <prefix>_<k>_of_<n> with one \"id<TAB>parent\" line per vertex")
	f.BoolVar(&saveGzip, "gzip", false, "gzip the saved output")
	f.IntVar(&partitions, "partitions", 0, "vertex partitions per process (0: one per worker)")
	f.IntVar(&workers, "workers", 0, "goroutines running vertex programs (0: GOMAXPROCS)")
	f.StringVar(&clusterFile, "cluster", "", "cluster config file for a distributed run")
	f.IntVar(&procID, "proc", 0, "this process's index in the cluster config")
	f.StringVar(&statusAddr, "status_addr", "", "serve the status API and metrics on this address")
	f.StringVar(&otlpEndpoint, "otlp_endpoint", "", "export traces to this OTLP/gRPC endpoint")
	f.StringVar(&logLevel, "log_level", "info", "log level")
	f.StringVar(&logFile, "log_file", "", "also append logs to this file")
}

// parseArgs takes the first positional argument as the graph path when no
// other graph input is set; the rest are sources.
func parseArgs(graph string, otherInput bool, flags, args []string) (string, []uint64, error) {
	if graph == "" && !otherInput && len(args) > 0 {
		graph, args = args[0], args[1:]
	}
	sources, err := parseSources(flags, args)
	return graph, sources, err
}

func printGraphSize(w io.Writer, vertices, edges int) {
	fmt.Fprintf(w, "#vertices:  %d\n", vertices)
	fmt.Fprintf(w, "#edges:     %d\n", edges)
}

func printResult(w io.Writer, res bfs.Result) {
	if res.Iterations > 0 {
		fmt.Fprintf(w, "%d iterations completed.\n", res.Iterations)
	}
	fmt.Fprintf(w, "Finished Running engine in %.3f seconds.\n", res.ElapsedSeconds)
	fmt.Fprintln(w, "Sources:", res.Sources)
	fmt.Fprintln(w, "Reached vertices:", res.Reached)
	if res.SaveFile != "" {
		fmt.Fprintln(w, "Saved:", res.SaveFile)
	}
}

func parseSources(flags, args []string) ([]uint64, error) {
	var sources []uint64
	for _, s := range append(append([]string(nil), flags...), args...) {
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", s, err)
		}
		sources = append(sources, id)
	}
	return sources, nil
}

func runBFS(cmd *cobra.Command, args []string) error {
	_, closeLog, err := util.InitLogger("bfs", logLevel, logFile)
	if err != nil {
		return err
	}
	defer closeLog()

	var sources []uint64
	graphPath, sources, err = parseArgs(graphPath, sqliteGraph != "" || powerlaw > 0, sourceFlags, args)
	if err != nil {
		return err
	}
	cfg := bfs.Config{
		Graph:           graphPath,
		Format:          format,
		Powerlaw:        powerlaw,
		Seed:            seed,
		Sources:         sources,
		MaxDegreeSource: maxDegreeSource,
		Directed:        directed,
		Mode:            bagel.Mode(engine),
		Partitions:      partitions,
		Workers:         workers,
		SavePrefix:      savePrefix,
		Gzip:            saveGzip,
	}
	if sqliteGraph != "" {
		store, err := database.OpenSQLGraph(database.DatabaseConfig{
			Driver:    database.DriverSQLite,
			Database:  sqliteGraph,
			TableName: sqlTable,
		})
		if err != nil {
			return err
		}
		defer store.Close()
		cfg.Store = store
	}
	// argument errors end the run before any peer is contacted
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, otlpEndpoint, "bagel-bfs")
	util.CheckErr(err, "Error setting up tracing")
	defer shutdownTracing(context.Background())

	var cluster *comm.Cluster
	if clusterFile != "" {
		clusterCfg, err := util.ReadClusterConfig(clusterFile)
		util.CheckErr(err, "Error reading cluster config %s", clusterFile)
		cluster, err = comm.JoinCluster(ctx, clusterCfg, procID)
		util.CheckErr(err, "Error joining cluster as proc %d", procID)
		defer cluster.Close()
		cfg.Control = cluster
	}

	job, err := bfs.Prepare(ctx, cfg)
	util.CheckErr(err, "Error preparing bfs")
	printGraphSize(os.Stdout, job.Graph.NumVertices(), job.Graph.NumEdges())

	var srv *bagel.StatusServer
	if statusAddr != "" {
		srv, err = bagel.StartStatusServer(statusAddr, job.Engine,
			bagel.RenderVertex(job.Graph, bfs.ParentWriter{}), 0)
		util.CheckErr(err, "Error starting status server on %s", statusAddr)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Close(closeCtx)
		}()
	}

	res, err := job.Run(ctx)
	util.CheckErr(err, "Error running bfs")
	if srv != nil {
		// the status API keeps answering vertex queries until exit
		srv.SetServing(false)
	}

	if cluster != nil {
		// nobody tears down its RPC server while a peer still needs it
		if err := cluster.Barrier(ctx); err != nil {
			log.Warn().Err(err).Msg("final barrier failed")
		}
	}

	printResult(os.Stdout, res)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
