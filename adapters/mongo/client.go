package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/narrasi/domain/entities"
)

const (
	defaultURI            = "mongodb://localhost:27017"
	defaultDatabase       = "narrasi"
	defaultMaxPoolSize    = 20
	defaultConnectTimeout = 10 * time.Second

	assetGroupsCollection = "asset_groups"
)

// Config holds MongoDB connection settings
type Config struct {
	URI            string        // Optional: Connection string (default: "mongodb://localhost:27017")
	Database       string        // Optional: Database name (default: "narrasi")
	MaxPoolSize    uint64        // Optional: Connections per server (default: 20)
	ConnectTimeout time.Duration // Optional: Connect and first ping budget (default: 10s)
}

// Client owns the driver connection and the database holding asset
// group records and GridFS audio
type Client struct {
	*mongo.Client
	Database *mongo.Database
	logger   *zap.Logger
}

// NewClient connects, verifies the server answers and prepares indexes
func NewClient(ctx context.Context, config Config, logger *zap.Logger) (*Client, error) {
	if config.URI == "" {
		config.URI = defaultURI
		logger.Info("Using default MongoDB URI", zap.String("uri", config.URI))
	}
	if config.Database == "" {
		config.Database = defaultDatabase
	}
	if config.MaxPoolSize == 0 {
		config.MaxPoolSize = defaultMaxPoolSize
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaultConnectTimeout
	}

	// Segment uploads run concurrently, so the pool must cover the
	// scheduler's window.
	opts := options.Client().
		ApplyURI(config.URI).
		SetMaxPoolSize(config.MaxPoolSize).
		SetMaxConnIdleTime(30 * time.Minute).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(config.ConnectTimeout)

	ctx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, &entities.StorageError{Op: "connect", Err: err}
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, &entities.StorageError{Op: "ping", Err: err}
	}

	c := &Client{
		Client:   client,
		Database: client.Database(config.Database),
		logger:   logger,
	}
	if err := c.ensureIndexes(ctx); err != nil {
		// Queries still work without the index.
		logger.Warn("Failed to create MongoDB indexes", zap.Error(err))
	}

	logger.Info("Connected to MongoDB",
		zap.String("database", config.Database),
		zap.Uint64("maxPoolSize", config.MaxPoolSize))
	return c, nil
}

func (c *Client) ensureIndexes(ctx context.Context) error {
	_, err := c.Database.Collection(assetGroupsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "created_at", Value: -1}},
		Options: options.Index().SetName("created_at_desc"),
	})
	return err
}

// Close disconnects from the server
func (c *Client) Close(ctx context.Context) error {
	if err := c.Client.Disconnect(ctx); err != nil {
		c.logger.Error("Failed to disconnect from MongoDB", zap.Error(err))
		return err
	}
	c.logger.Info("Disconnected from MongoDB")
	return nil
}
