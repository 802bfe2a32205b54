package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/EHRI/ehri-rest-sub010/pkg/graph"
	"github.com/EHRI/ehri-rest-sub010/pkg/kv"
	"github.com/EHRI/ehri-rest-sub010/pkg/persistence"
	"github.com/EHRI/ehri-rest-sub010/pkg/storage"
)

// ErrNoExport is returned by OpenExport when no export target is set.
var ErrNoExport = errors.New("no export target configured; set export.dir or export.s3.bucket")

// OpenKV opens the configured KV store. The caller closes it.
func (g *Graph) OpenKV(log *slog.Logger) (kv.Store, error) {
	switch g.Backend {
	case "memory":
		return kv.NewMemory(graph.StoreOptions()), nil
	case "sqlite":
		if err := os.MkdirAll(g.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("config: create data dir: %w", err)
		}
		s, err := kv.NewSQLite(kv.SQLiteOptions{Options: graph.StoreOptions(), Path: filepath.Join(g.DataDir, "graph.db")})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "badger", "":
		b, err := kv.NewBadger(kv.BadgerOptions{Options: graph.StoreOptions(), Dir: g.DataDir, Logger: log})
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("config: unknown backend %q", g.Backend)
}

// GraphOptions returns the graph options for store settings.
func (g *Graph) GraphOptions(log *slog.Logger) *graph.Options {
	opts := &graph.Options{
		Index:  graph.IndexStrategy(g.Index),
		Logger: log,
	}
	if g.Prefix != "" {
		opts.Prefix = kv.Key{g.Prefix}
	}
	return opts
}

// ManagerOptions returns the bundle manager options for id settings.
func (g *Graph) ManagerOptions(log *slog.Logger) []persistence.Option {
	return []persistence.Option{
		persistence.WithScope(g.Scope...),
		persistence.WithSlugReplace(g.SlugReplace),
		persistence.WithLogger(log),
	}
}

// OpenExport returns the configured export target.
func (g *Graph) OpenExport() (storage.FileStore, error) {
	switch {
	case g.Export == nil:
		return nil, ErrNoExport
	case g.Export.S3 != nil:
		c := g.Export.S3
		return storage.NewS3(newS3Client(c), c.Bucket, c.Prefix), nil
	case g.Export.Dir != "":
		l, err := storage.NewLocal(g.Export.Dir)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	return nil, ErrNoExport
}

func newS3Client(c *S3) *s3.Client {
	region := c.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:      region,
		Credentials: aws.NewCredentialsCache(aws.CredentialsProviderFunc(envCredentials)),
	}
	if c.Endpoint != "" {
		opts.BaseEndpoint = aws.String(c.Endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

// envCredentials reads the standard AWS_* credential variables.
func envCredentials(context.Context) (aws.Credentials, error) {
	id, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")
	if id == "" || secret == "" {
		return aws.Credentials{}, errors.New("config: AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set for S3 export")
	}
	return aws.Credentials{
		AccessKeyID:     id,
		SecretAccessKey: secret,
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		Source:          "Environment",
	}, nil
}
