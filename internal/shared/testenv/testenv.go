//go:build integration

// Package testenv は統合テスト用にDockerでPostgreSQL(pgvector)とMongoDBを起動する
package testenv

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	"github.com/jinford/curriculum-rag/internal/platform/database"
	"github.com/jinford/curriculum-rag/internal/platform/mongodb"
)

func newPool(t *testing.T) *dockertest.Pool {
	t.Helper()
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker is not available: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker is not reachable: %v", err)
	}
	pool.MaxWait = 2 * time.Minute
	return pool
}

func autoRemove(hc *docker.HostConfig) {
	hc.AutoRemove = true
	hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
}

// StartPostgres はpgvector入りのPostgreSQLを起動し、接続済みのDBを返す
func StartPostgres(t *testing.T) *database.DB {
	t.Helper()
	pool := newPool(t)

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "pgvector/pgvector",
		Tag:        "pg16",
		Env: []string{
			"POSTGRES_USER=curriculum",
			"POSTGRES_PASSWORD=secret",
			"POSTGRES_DB=curriculum",
		},
	}, autoRemove)
	if err != nil {
		t.Fatalf("failed to start postgres: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })
	_ = resource.Expire(300)

	params := database.ConnectionParams{
		Host:     "localhost",
		User:     "curriculum",
		Password: "secret",
		DBName:   "curriculum",
		SSLMode:  "disable",
	}
	params.Port, err = strconv.Atoi(resource.GetPort("5432/tcp"))
	if err != nil {
		t.Fatalf("invalid postgres port: %v", err)
	}

	var db *database.DB
	if err := pool.Retry(func() error {
		var err error
		db, err = database.New(context.Background(), params)
		return err
	}); err != nil {
		t.Fatalf("postgres did not become ready: %v", err)
	}
	t.Cleanup(db.Close)
	return db
}

// StartMongo はMongoDBを起動し、接続済みのクライアントを返す
func StartMongo(t *testing.T) *mongodb.Client {
	t.Helper()
	pool := newPool(t)

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "mongo",
		Tag:        "7",
	}, autoRemove)
	if err != nil {
		t.Fatalf("failed to start mongo: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })
	_ = resource.Expire(300)

	uri := fmt.Sprintf("mongodb://localhost:%s", resource.GetPort("27017/tcp"))

	var client *mongodb.Client
	if err := pool.Retry(func() error {
		var err error
		client, err = mongodb.Connect(context.Background(), uri, "curriculum_test")
		return err
	}); err != nil {
		t.Fatalf("mongo did not become ready: %v", err)
	}
	t.Cleanup(func() { _ = client.Close(context.Background()) })
	return client
}
