// Package store is the Governor's view of the production document store. It
// exposes exactly what monitoring needs: a bounded read probe per collection
// and a liveness ping. Probe failures are classified into authorization
// failures and everything else, because only the former trigger remediation.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	apperrors "github.com/charlesng35/governor/pkg/errors"
	"github.com/charlesng35/governor/pkg/logger"
)

// Store is the probe surface the monitor runs against.
type Store interface {
	Probe(ctx context.Context, collection string) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// DefaultConnectTimeout bounds the initial connection handshake.
const DefaultConnectTimeout = 10 * time.Second

// Config describes the store connection.
type Config struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// MongoStore probes a MongoDB database.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	log    *zap.Logger
}

// Connect dials the store and verifies the connection with a ping.
func Connect(ctx context.Context, cfg Config) (*MongoStore, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(cfg.URI).
		SetAppName("governor"))
	if err != nil {
		return nil, apperrors.ErrProbeFailed.WithInternal(err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, apperrors.ErrProbeFailed.WithInternal(err)
	}

	log := logger.WithModule("store")
	log.Info("store connected", zap.String("database", cfg.Database))

	return &MongoStore{
		client: client,
		db:     client.Database(cfg.Database),
		log:    log,
	}, nil
}

// Probe issues a minimal bounded read against the collection. An empty
// collection is a successful probe; what matters is whether the store lets
// the read through.
func (s *MongoStore) Probe(ctx context.Context, collection string) error {
	cursor, err := s.db.Collection(collection).Find(ctx, bson.D{}, options.Find().SetLimit(1))
	if err != nil {
		return Classify(err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	cursor.Next(ctx)
	if err := cursor.Err(); err != nil {
		return Classify(err)
	}
	return nil
}

// Ping verifies store liveness.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close releases the underlying connections.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Mongo server error codes that indicate an authorization failure.
const (
	codeUnauthorized         = 13
	codeAuthenticationFailed = 18
)

var permissionMessageMarkers = []string{
	"not authorized",
	"unauthorized",
	"requires authentication",
	"permission denied",
}

// Classify sorts a probe error into the permission-denied bucket or the
// unrelated-failure bucket. Already-classified errors pass through.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, apperrors.ErrPermissionDenied) || errors.Is(err, apperrors.ErrProbeFailed) {
		return err
	}
	if IsPermissionError(err) {
		return apperrors.ErrPermissionDenied.WithInternal(err)
	}
	return apperrors.ErrProbeFailed.WithInternal(err)
}

// IsPermissionError reports whether an error from the store is an
// authorization rejection rather than a transport or server fault.
func IsPermissionError(err error) bool {
	if err == nil {
		return false
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		if cmdErr.Code == codeUnauthorized || cmdErr.Code == codeAuthenticationFailed {
			return true
		}
		if cmdErr.Name == "Unauthorized" || cmdErr.Name == "AuthenticationFailed" {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range permissionMessageMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
