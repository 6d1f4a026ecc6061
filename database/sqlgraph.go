package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	_ "github.com/denisenkom/go-mssqldb"
	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"bagelbfs/util"
)

const (
	DriverSQLServer = "sqlserver"
	DriverMySQL     = "mysql"
	DriverSQLite    = "sqlite3"

	DefaultTableName = "adjList"
	neighborDelim    = "."
)

// DatabaseConfig describes an adjacency table. For sqlite3 Database is the
// file path and the server fields are ignored.
type DatabaseConfig struct {
	Driver     string `validate:"required,oneof=sqlserver mysql sqlite3"`
	ServerAddr string `validate:"required_unless=Driver sqlite3"`
	Port       int    `validate:"omitempty,min=1,max=65535"`
	Username   string
	Password   string
	Database   string `validate:"required"`
	TableName  string `validate:"omitempty,alphanum"`
}

// DSN is the driver connection string for c.
func (c DatabaseConfig) DSN() string {
	switch c.Driver {
	case DriverSQLServer:
		return fmt.Sprintf("server=%s;user id=%s;password=%s;port=%d;database=%s;",
			c.ServerAddr, c.Username, c.Password, c.Port, c.Database)
	case DriverMySQL:
		mc := mysql.NewConfig()
		mc.User = c.Username
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.ServerAddr, strconv.Itoa(c.Port))
		mc.DBName = c.Database
		return mc.FormatDSN()
	}
	return c.Database
}

// maxParams is the bound-parameter limit of one statement.
func (c DatabaseConfig) maxParams() int {
	switch c.Driver {
	case DriverSQLServer:
		return 2099
	case DriverMySQL:
		return 65535
	}
	return 999
}

func (c DatabaseConfig) placeholder(ordinal int) string {
	if c.Driver == DriverSQLServer {
		return "@p" + strconv.Itoa(ordinal)
	}
	return "?"
}

func (c DatabaseConfig) neighborsType() string {
	if c.Driver == DriverSQLServer {
		return "VARCHAR(8000)"
	}
	return "TEXT"
}

// SQLGraph is an adjacency table with one row per vertex:
// (srcVertex, hash, neighbors), neighbors joined with '.'.
type SQLGraph struct {
	db    *sql.DB
	cfg   DatabaseConfig
	table string
}

func OpenSQLGraph(cfg DatabaseConfig) (*SQLGraph, error) {
	if err := util.Validate(cfg); err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, errors.Wrap(err, "error creating connection pool")
	}
	table := cfg.TableName
	if table == "" {
		table = DefaultTableName
	}
	return &SQLGraph{db: db, cfg: cfg, table: table}, nil
}

func (s *SQLGraph) Close() error { return s.db.Close() }

// CreateTable drops and recreates the adjacency table.
func (s *SQLGraph) CreateTable(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+s.table); err != nil {
		return errors.Wrapf(err, "drop %s", s.table)
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (srcVertex BIGINT PRIMARY KEY, hash VARCHAR(20), neighbors %s)",
		s.table, s.cfg.neighborsType())
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrapf(err, "create %s", s.table)
	}
	return nil
}

// InsertVertices bulk inserts vertices, as many rows per statement as the
// driver's parameter limit allows.
func (s *SQLGraph) InsertVertices(ctx context.Context, vertices []Vertex) error {
	const numParams = 3
	rowsPerInsert := s.cfg.maxParams() / numParams
	bulks := Batches(vertices, rowsPerInsert)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	for i, bulk := range bulks {
		startTime := time.Now()
		valueStrings := make([]string, 0, len(bulk))
		valueArgs := make([]interface{}, 0, len(bulk)*numParams)

		ordinal := 1
		for _, v := range bulk {
			valueStrings = append(valueStrings, fmt.Sprintf("(%s, %s, %s)",
				s.cfg.placeholder(ordinal), s.cfg.placeholder(ordinal+1), s.cfg.placeholder(ordinal+2)))
			valueArgs = append(valueArgs, int64(v.ID), strconv.FormatUint(v.Hash, 10), arrayToString(v.Edges, neighborDelim))
			ordinal += numParams
		}
		stmt := fmt.Sprintf("INSERT INTO %s (srcVertex, hash, neighbors) VALUES %s",
			s.table, strings.Join(valueStrings, ","))
		if _, err := tx.ExecContext(ctx, stmt, valueArgs...); err != nil {
			return errors.Wrapf(err, "failed to bulk insert rows (%d/%d)", i+1, len(bulks))
		}
		log.Debug().Str("component", "database").Dur("took", time.Since(startTime)).
			Msgf("Successfully inserted (%d/%d)", i+1, len(bulks))
	}
	return errors.Wrap(tx.Commit(), "commit")
}

func (s *SQLGraph) GetVertexByID(ctx context.Context, id uint64) (Vertex, error) {
	qs := fmt.Sprintf("SELECT srcVertex, hash, neighbors FROM %s WHERE srcVertex = %s",
		s.table, s.cfg.placeholder(1))
	v, err := scanVertex(s.db.QueryRowContext(ctx, qs, int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return Vertex{}, errors.Errorf("%d: unknown ID", id)
	}
	return v, err
}

// Vertices reads the whole table ordered by id.
func (s *SQLGraph) Vertices(ctx context.Context) ([]Vertex, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT srcVertex, hash, neighbors FROM %s ORDER BY srcVertex", s.table))
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", s.table)
	}
	defer rows.Close()

	var vertices []Vertex
	for rows.Next() {
		v, err := scanVertex(rows)
		if err != nil {
			return nil, err
		}
		vertices = append(vertices, v)
	}
	return vertices, errors.Wrap(rows.Err(), "reading rows")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVertex(row rowScanner) (Vertex, error) {
	var (
		id        int64
		hash      string
		neighbors sql.NullString
	)
	if err := row.Scan(&id, &hash, &neighbors); err != nil {
		return Vertex{}, err
	}
	hashNum, err := strconv.ParseUint(hash, 10, 64)
	if err != nil {
		return Vertex{}, errors.Wrapf(err, "vertex %d: parsing hash", id)
	}
	edges, err := convertStringToArray(neighbors.String, neighborDelim)
	if err != nil {
		return Vertex{}, errors.Wrapf(err, "vertex %d", id)
	}
	return Vertex{ID: uint64(id), Hash: hashNum, Edges: edges}, nil
}

// arrayToString joins ids with delim; '.' survives every SQL dialect.
func arrayToString(a []uint64, delim string) string {
	parts := make([]string, len(a))
	for i, v := range a {
		parts[i] = strconv.FormatUint(v, 10)
	}
	return strings.Join(parts, delim)
}

func convertStringToArray(a string, delim string) ([]uint64, error) {
	neighborSlice := []uint64{}
	if len(strings.TrimSpace(a)) == 0 {
		return neighborSlice, nil
	}
	for _, v := range strings.Split(a, delim) {
		neighborID, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing neighbor %q", v)
		}
		neighborSlice = append(neighborSlice, neighborID)
	}
	return neighborSlice, nil
}
