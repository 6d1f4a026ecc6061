// Package mongodb stores vertex records in a MongoDB collection, with ids,
// edges and hashes kept as decimal strings.
package mongodb

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"bagelbfs/database"
)

const (
	DatabaseName = "bagel"
	// passwordPlaceholder in a URI is replaced by $DB_PASSWORD.
	passwordPlaceholder = "<password>"
)

type DBVertex struct {
	ID    string   `bson:"ID"`
	Edges []string `bson:"Edges"`
	Hash  string   `bson:"Hash"`
}

// ConnectionURI returns uri, or $MONGODB_URI when uri is empty, after
// loading .env and substituting $DB_PASSWORD for "<password>".
func ConnectionURI(uri string) (string, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Debug().Str("component", "mongodb").Err(err).Msg("no .env file loaded")
	}
	if uri == "" {
		uri = os.Getenv("MONGODB_URI")
	}
	if uri == "" {
		return "", errors.New("mongodb: no connection uri (set MONGODB_URI)")
	}
	return strings.ReplaceAll(uri, passwordPlaceholder, os.Getenv("DB_PASSWORD")), nil
}

func GetDatabaseClient(ctx context.Context, uri string) (*mongo.Client, error) {
	uri, err := ConnectionURI(uri)
	if err != nil {
		return nil, err
	}
	serverAPIOptions := options.ServerAPI(options.ServerAPIVersion1)
	clientOptions := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(serverAPIOptions)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, errors.Wrap(err, "mongodb connect")
	}
	log.Info().Str("component", "mongodb").Msg("GetDatabaseClient: connected")
	return client, nil
}

func GetCollection(client *mongo.Client, tableName string) *mongo.Collection {
	return client.Database(DatabaseName).Collection(tableName)
}

func toDBVertex(vertex database.Vertex) DBVertex {
	return DBVertex{
		ID:    strconv.FormatUint(vertex.ID, 10),
		Edges: formatEdges(vertex.Edges),
		Hash:  strconv.FormatUint(vertex.Hash, 10),
	}
}

func createBatches(vertices []database.Vertex) [][]interface{} {
	docs := make([]interface{}, len(vertices))
	for i, v := range vertices {
		docs[i] = toDBVertex(v)
	}
	return database.Batches(docs, database.MaxItemsPerBatch)
}

func formatEdges(edges []uint64) []string {
	formattedEdges := make([]string, len(edges))
	for idx, edge := range edges {
		formattedEdges[idx] = strconv.FormatUint(edge, 10)
	}
	return formattedEdges
}

func BatchInsertVertices(ctx context.Context, collection *mongo.Collection, vertices []database.Vertex) error {
	batches := createBatches(vertices)
	numBatches := len(batches)
	for b, batch := range batches {
		if _, err := collection.InsertMany(ctx, batch); err != nil {
			return errors.Wrapf(err, "failed to upload batch %d", b)
		}
		log.Debug().Str("component", "mongodb").Msgf("Successfully uploaded batch %d/%d", b+1, numBatches)
	}
	log.Info().Str("component", "mongodb").Str("collection", collection.Name()).Int("batches", numBatches).
		Msg("BatchInsertVertices: done")
	return nil
}

func GetVertexByID(ctx context.Context, collection *mongo.Collection, vertexId uint64) (database.Vertex, error) {
	var dbVertex DBVertex
	err := collection.FindOne(ctx, bson.M{"ID": strconv.FormatUint(vertexId, 10)}).Decode(&dbVertex)
	if err != nil {
		return database.Vertex{}, errors.Wrapf(err, "vertex %d", vertexId)
	}
	return parseDBVertex(dbVertex)
}

// ReadVertices reads the whole collection.
func ReadVertices(ctx context.Context, collection *mongo.Collection) ([]database.Vertex, error) {
	cursor, err := collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, errors.Wrap(err, "error fetching vertices")
	}
	var dbVertices []DBVertex
	if err := cursor.All(ctx, &dbVertices); err != nil {
		return nil, errors.Wrap(err, "error reading vertices")
	}

	vertices := make([]database.Vertex, 0, len(dbVertices))
	for _, dbVertex := range dbVertices {
		v, err := parseDBVertex(dbVertex)
		if err != nil {
			return nil, err
		}
		vertices = append(vertices, v)
	}
	return vertices, nil
}

func parseDBVertex(dbVertex DBVertex) (database.Vertex, error) {
	id, err := strconv.ParseUint(dbVertex.ID, 10, 64)
	if err != nil {
		return database.Vertex{}, errors.Wrapf(err, "vertex id %q", dbVertex.ID)
	}
	edges := make([]uint64, len(dbVertex.Edges))
	for idx, edge := range dbVertex.Edges {
		if edges[idx], err = strconv.ParseUint(edge, 10, 64); err != nil {
			return database.Vertex{}, errors.Wrapf(err, "vertex %d edge %q", id, edge)
		}
	}
	hash, err := strconv.ParseUint(dbVertex.Hash, 10, 64)
	if err != nil {
		return database.Vertex{}, errors.Wrapf(err, "vertex %d hash %q", id, dbVertex.Hash)
	}
	return database.Vertex{ID: id, Edges: edges, Hash: hash}, nil
}
