package events

import (
	"fmt"
	"strconv"
	"time"

	watermillsql "github.com/ThreeDotsLabs/watermill-sql/v3/pkg/sql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/ghuser/notifyhub/pkg/logger"
)

// sqlStatementTimeout caps every statement, publishes included, unless the
// URL already sets statement_timeout.
const sqlStatementTimeout = 10 * time.Second

// NewSQLTransport returns a transport over PostgreSQL using Watermill's SQL
// Pub/Sub. Schema tables are created automatically on first use.
//
// consumerGroup must be unique per instance: watermill-sql load-balances
// within a group, so a shared group would deliver each message to only one
// instance. Offsets persist per group, which means a stable INSTANCE_ID lets
// a restarted pod resume where it stopped.
func NewSQLTransport(databaseURL, consumerGroup string, log logger.Logger) (Transport, error) {
	connCfg, err := pgxConfig(databaseURL)
	if err != nil {
		return Transport{}, err
	}
	db := stdlib.OpenDB(*connCfg)

	wlog := NewLoggerAdapter(log)

	pub, err := watermillsql.NewPublisher(
		db,
		watermillsql.PublisherConfig{
			SchemaAdapter:        watermillsql.DefaultPostgreSQLSchema{},
			AutoInitializeSchema: true,
		},
		wlog,
	)
	if err != nil {
		_ = db.Close()
		return Transport{}, fmt.Errorf("events: new publisher: %w", err)
	}

	sub, err := watermillsql.NewSubscriber(
		db,
		watermillsql.SubscriberConfig{
			SchemaAdapter:    watermillsql.DefaultPostgreSQLSchema{},
			OffsetsAdapter:   watermillsql.DefaultPostgreSQLOffsetsAdapter{},
			InitializeSchema: true,
			ConsumerGroup:    consumerGroup,
		},
		wlog,
	)
	if err != nil {
		_ = pub.Close()
		_ = db.Close()
		return Transport{}, fmt.Errorf("events: new subscriber: %w", err)
	}

	return Transport{
		Name:       "postgres",
		Publisher:  pub,
		Subscriber: sub,
		Ping:       db.PingContext,
		Close:      db.Close,
	}, nil
}

func pgxConfig(databaseURL string) (*pgx.ConnConfig, error) {
	cfg, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("events: parse database url: %w", err)
	}
	if _, ok := cfg.RuntimeParams["statement_timeout"]; !ok {
		cfg.RuntimeParams["statement_timeout"] = strconv.FormatInt(sqlStatementTimeout.Milliseconds(), 10)
	}
	return cfg, nil
}
