package database

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const maxUnprocessedRetries = 5

// DynamoConfig locates a DynamoDB endpoint. An empty Endpoint means AWS
// itself, with credentials from the default chain; otherwise a local
// endpoint is used with static dummy credentials.
type DynamoConfig struct {
	Region   string
	Endpoint string `validate:"omitempty,url"`
}

func GetDynamoClient(ctx context.Context, cfg DynamoConfig) (*dynamodb.Client, error) {
	region := cfg.Region
	if region == "" {
		region = DefaultRegion
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.Endpoint != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load SDK config")
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.EndpointResolver = dynamodb.EndpointResolverFromURL(cfg.Endpoint)
		}
	}), nil
}

// CreateTable creates a vertex table keyed by ID and waits until it is
// active.
func CreateTable(ctx context.Context, svc *dynamodb.Client, tableName string) error {
	_, err := svc.CreateTable(ctx, &dynamodb.CreateTableInput{
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("ID"),
				AttributeType: types.ScalarAttributeTypeN,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("ID"),
				KeyType:       types.KeyTypeHash,
			},
		},
		TableName:   aws.String(tableName),
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return errors.Wrapf(err, "create table %s", tableName)
	}
	log.Info().Str("component", "database").Str("table", tableName).Msg("CreateTable: created")
	return waitForTable(ctx, svc, tableName)
}

func waitForTable(ctx context.Context, svc *dynamodb.Client, tableName string) error {
	w := dynamodb.NewTableExistsWaiter(svc)
	err := w.Wait(ctx,
		&dynamodb.DescribeTableInput{
			TableName: aws.String(tableName),
		},
		2*time.Minute,
		func(o *dynamodb.TableExistsWaiterOptions) {
			o.MaxDelay = 5 * time.Second
			o.MinDelay = 5 * time.Second
		})
	return errors.Wrapf(err, "waiting for table %s", tableName)
}

func GetVertexByID(ctx context.Context, svc *dynamodb.Client, tableName string, vertexId uint64) (Vertex, error) {
	res, err := svc.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(tableName),
		Key: map[string]types.AttributeValue{
			"ID": &types.AttributeValueMemberN{Value: strconv.FormatUint(vertexId, 10)},
		},
	})
	if err != nil {
		return Vertex{}, errors.Wrapf(err, "get vertex %d", vertexId)
	}
	if res.Item == nil {
		return Vertex{}, errors.Errorf("vertex %d not in %s", vertexId, tableName)
	}

	var vertex Vertex
	if err := attributevalue.UnmarshalMap(res.Item, &vertex); err != nil {
		return Vertex{}, errors.Wrapf(err, "decode vertex %d", vertexId)
	}
	return vertex, nil
}

// ScanVertices reads the whole table.
func ScanVertices(ctx context.Context, svc *dynamodb.Client, tableName string) ([]Vertex, error) {
	p := dynamodb.NewScanPaginator(svc, &dynamodb.ScanInput{
		TableName: aws.String(tableName),
	})
	var vertices []Vertex
	for page := 1; p.HasMorePages(); page++ {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "scan %s page %d", tableName, page)
		}
		var items []Vertex
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, errors.Wrapf(err, "decode %s page %d", tableName, page)
		}
		vertices = append(vertices, items...)
	}
	log.Info().Str("component", "database").Str("table", tableName).Int("vertices", len(vertices)).
		Msg("ScanVertices: done")
	return vertices, nil
}

func BatchInsertVertices(ctx context.Context, svc *dynamodb.Client, tableName string, vertices []Vertex) error {
	batches, err := getBatches(vertices)
	if err != nil {
		return err
	}
	numBatches := len(batches)

	for b, batch := range batches {
		pending := map[string][]types.WriteRequest{tableName: batch}
		for attempt := 0; len(pending) > 0; attempt++ {
			if attempt > maxUnprocessedRetries {
				return errors.Errorf("batch %d/%d: items still unprocessed after %d retries", b+1, numBatches, maxUnprocessedRetries)
			}
			out, err := svc.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return errors.Wrapf(err, "failed to upload batch %d", b)
			}
			pending = out.UnprocessedItems
		}
		log.Debug().Str("component", "database").Msgf("Successfully uploaded batch %d/%d", b+1, numBatches)
	}

	log.Info().Str("component", "database").Str("table", tableName).Int("batches", numBatches).
		Msg("BatchInsertVertices: done")
	return nil
}

func getBatches(vertices []Vertex) ([][]types.WriteRequest, error) {
	reqs := make([]types.WriteRequest, len(vertices))
	for i, vertex := range vertices {
		req, err := marshalVertexWriteReq(vertex)
		if err != nil {
			return nil, err
		}
		reqs[i] = req
	}
	return Batches(reqs, MaxItemsPerBatch), nil
}

func marshalVertexWriteReq(vertex Vertex) (types.WriteRequest, error) {
	item, err := attributevalue.MarshalMap(vertex)
	if err != nil {
		return types.WriteRequest{}, errors.Wrapf(err, "encode vertex %d", vertex.ID)
	}
	return types.WriteRequest{PutRequest: &types.PutRequest{Item: item}}, nil
}
