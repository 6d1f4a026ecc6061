package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"bagelbfs/database"
	"bagelbfs/database/mongodb"
	"bagelbfs/util"
)

var (
	tableName string
	logLevel  string

	dynamoCfg database.DynamoConfig
	createTbl bool

	sqlCfg database.DatabaseConfig

	mongoURI string

	rootCmd = &cobra.Command{
		Use:   "database",
		Short: "Move graphs between edge-list files and graph stores",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, _, err := util.InitLogger("database", logLevel, "")
			return err
		},
		SilenceUsage: true,
	}
	uploadCmd = &cobra.Command{
		Use:   "upload",
		Short: "Upload an edge-list file into a store",
	}
	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Write a store's graph as an adjacency file bfs --format adj can read",
	}
)

func readEdgeList(path string) ([]database.Vertex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vertices, err := database.ParseInputGraph(f)
	if err != nil {
		return nil, err
	}
	log.Info().Int("vertices", len(vertices)).Str("file", path).Msg("Successfully parsed graph")
	return vertices, nil
}

func writeAdjacency(path string, vertices []database.Vertex) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := database.WriteAdjacency(f, vertices); err != nil {
		f.Close()
		return err
	}
	log.Info().Int("vertices", len(vertices)).Str("file", path).Msg("Wrote adjacency file")
	return f.Close()
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Minute)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&tableName, "table", database.CentralTableName, "table or collection name")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log_level", "info", "log level")

	for _, c := range []*cobra.Command{uploadCmd, exportCmd} {
		dynamo := &cobra.Command{Use: "dynamodb <file>", Args: cobra.ExactArgs(1)}
		dynamo.Flags().StringVar(&dynamoCfg.Region, "region", database.DefaultRegion, "AWS region")
		dynamo.Flags().StringVar(&dynamoCfg.Endpoint, "endpoint", "", "DynamoDB endpoint URL (e.g. DynamoDB Local)")

		sqlc := &cobra.Command{Use: "sql <file>", Args: cobra.ExactArgs(1)}
		sqlc.Flags().StringVar(&sqlCfg.Driver, "driver", database.DriverSQLite, "sqlserver, mysql or sqlite3")
		sqlc.Flags().StringVar(&sqlCfg.ServerAddr, "server", "", "database server host")
		sqlc.Flags().IntVar(&sqlCfg.Port, "port", 0, "database server port")
		sqlc.Flags().StringVar(&sqlCfg.Username, "user", "", "database user")
		sqlc.Flags().StringVar(&sqlCfg.Database, "database", "bagel.db", "database name (file path for sqlite3)")
		sqlc.PreRun = func(cmd *cobra.Command, args []string) {
			sqlCfg.Password = os.Getenv("DB_PASSWORD")
		}

		mongo := &cobra.Command{Use: "mongodb <file>", Args: cobra.ExactArgs(1)}
		mongo.Flags().StringVar(&mongoURI, "uri", "", "connection uri (default $MONGODB_URI)")

		if c == uploadCmd {
			dynamo.Short, dynamo.RunE = "Upload into DynamoDB", uploadDynamo
			dynamo.Flags().BoolVar(&createTbl, "create", false, "create the table first")
			sqlc.Short, sqlc.RunE = "Upload into a SQL adjacency table (recreated)", uploadSQL
			mongo.Short, mongo.RunE = "Upload into MongoDB", uploadMongo
		} else {
			dynamo.Short, dynamo.RunE = "Export from DynamoDB", exportDynamo
			sqlc.Short, sqlc.RunE = "Export from a SQL adjacency table", exportSQL
			mongo.Short, mongo.RunE = "Export from MongoDB", exportMongo
		}
		c.AddCommand(dynamo, sqlc, mongo)
	}
	rootCmd.AddCommand(uploadCmd, exportCmd)
}

func uploadDynamo(cmd *cobra.Command, args []string) error {
	vertices, err := readEdgeList(args[0])
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()
	svc, err := database.GetDynamoClient(ctx, dynamoCfg)
	if err != nil {
		return err
	}
	if createTbl {
		if err := database.CreateTable(ctx, svc, tableName); err != nil {
			return err
		}
	}
	return database.BatchInsertVertices(ctx, svc, tableName, vertices)
}

func exportDynamo(cmd *cobra.Command, args []string) error {
	ctx, cancel := withTimeout()
	defer cancel()
	svc, err := database.GetDynamoClient(ctx, dynamoCfg)
	if err != nil {
		return err
	}
	vertices, err := database.ScanVertices(ctx, svc, tableName)
	if err != nil {
		return err
	}
	return writeAdjacency(args[0], vertices)
}

func openSQL() (*database.SQLGraph, error) {
	cfg := sqlCfg
	cfg.TableName = tableName
	if cfg.TableName == database.CentralTableName {
		cfg.TableName = database.DefaultTableName
	}
	return database.OpenSQLGraph(cfg)
}

func uploadSQL(cmd *cobra.Command, args []string) error {
	vertices, err := readEdgeList(args[0])
	if err != nil {
		return err
	}
	s, err := openSQL()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx, cancel := withTimeout()
	defer cancel()
	if err := s.CreateTable(ctx); err != nil {
		return err
	}
	return s.InsertVertices(ctx, vertices)
}

func exportSQL(cmd *cobra.Command, args []string) error {
	s, err := openSQL()
	if err != nil {
		return err
	}
	defer s.Close()
	ctx, cancel := withTimeout()
	defer cancel()
	vertices, err := s.Vertices(ctx)
	if err != nil {
		return err
	}
	return writeAdjacency(args[0], vertices)
}

func uploadMongo(cmd *cobra.Command, args []string) error {
	vertices, err := readEdgeList(args[0])
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout()
	defer cancel()
	client, err := mongodb.GetDatabaseClient(ctx, mongoURI)
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background())
	return mongodb.BatchInsertVertices(ctx, mongodb.GetCollection(client, tableName), vertices)
}

func exportMongo(cmd *cobra.Command, args []string) error {
	ctx, cancel := withTimeout()
	defer cancel()
	client, err := mongodb.GetDatabaseClient(ctx, mongoURI)
	if err != nil {
		return err
	}
	defer client.Disconnect(context.Background())
	vertices, err := mongodb.ReadVertices(ctx, mongodb.GetCollection(client, tableName))
	if err != nil {
		return err
	}
	return writeAdjacency(args[0], vertices)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
