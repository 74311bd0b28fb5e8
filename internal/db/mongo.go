package db

import (
	"context"
	"errors"
	"strings"

	"github.com/taskhub-app/apiserver/config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// OpenMongo connects to MongoDB and returns the configured database.
func OpenMongo(ctx context.Context, cfg config.DatabaseConfig) (*mongo.Client, *mongo.Database, error) {
	if strings.TrimSpace(cfg.MongoURI) == "" {
		return nil, nil, errors.New("mongo uri is required")
	}
	if strings.TrimSpace(cfg.MongoDB) == "" {
		return nil, nil, errors.New("mongo database name is required")
	}

	connectCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().
		ApplyURI(cfg.MongoURI).
		SetMaxPoolSize(defaultMaxOpenConns).
		SetMaxConnIdleTime(defaultConnMaxIdle))
	if err != nil {
		return nil, nil, err
	}

	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, err
	}

	return client, client.Database(cfg.MongoDB), nil
}
