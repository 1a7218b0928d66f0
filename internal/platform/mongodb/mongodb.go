package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Client はMongoDBクライアントと対象データベースを保持します
type Client struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect はMongoDBに接続し、疎通を確認します
func Connect(ctx context.Context, uri, database string) (*Client, error) {
	if database == "" {
		return nil, fmt.Errorf("mongodb database name is required")
	}

	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &Client{client: client, db: client.Database(database)}, nil
}

// Database は対象データベースを返します
func (c *Client) Database() *mongo.Database {
	return c.db
}

// Collection は指定名のコレクションを返します
func (c *Client) Collection(name string) *mongo.Collection {
	return c.db.Collection(name)
}

// Close は接続を閉じます
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}
