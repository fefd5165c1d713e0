package storage

import (
	"context"
	"errors"
	"fmt"

	"ticket_parser/internal/pipeline"
)

// Config selects which stores to open. A store with an empty path or host
// stays closed.
type Config struct {
	SQLitePath string
	ClickHouse ClickHouseConfig
	Postgres   PostgresConfig
}

// DefaultConfig returns local development settings with every store enabled.
func DefaultConfig() Config {
	return Config{
		SQLitePath: "tickets.db",
		ClickHouse: ClickHouseConfig{
			Host:     "localhost",
			Port:     9000,
			Database: "tickets",
			User:     "default",
		},
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "tickets",
			User:     "tickets",
			Password: "tickets",
		},
	}
}

// Stores groups the optional backends. Nil fields are disabled.
type Stores struct {
	Review *ReviewDB     // SQLite review store.
	PG     *PostgresDB   // PostgreSQL itineraries.
	CH     *ClickHouseDB // ClickHouse analytics and usage.
}

// Open opens every configured store and creates its schema.
func Open(ctx context.Context, cfg Config) (*Stores, error) {
	s := &Stores{}

	if cfg.SQLitePath != "" {
		review, err := OpenReview(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		s.Review = review
	}

	if cfg.Postgres.Host != "" {
		pg, err := OpenPostgres(ctx, cfg.Postgres)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		s.PG = pg
	}

	if cfg.ClickHouse.Host != "" {
		ch, err := OpenClickHouse(ctx, cfg.ClickHouse)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
		s.CH = ch
	}

	if err := s.CreateSchemas(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close closes every open store.
func (s *Stores) Close() error {
	var errs []error
	if s.Review != nil {
		if err := s.Review.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sqlite: %w", err))
		}
	}
	if s.CH != nil {
		if err := s.CH.Close(); err != nil {
			errs = append(errs, fmt.Errorf("clickhouse: %w", err))
		}
	}
	if s.PG != nil {
		s.PG.Close()
	}
	return errors.Join(errs...)
}

// CreateSchemas creates the server-side schemas. The SQLite schema is
// created on open.
func (s *Stores) CreateSchemas(ctx context.Context) error {
	if s.CH != nil {
		if err := s.CH.CreateSchema(ctx); err != nil {
			return fmt.Errorf("clickhouse schema: %w", err)
		}
	}
	if s.PG != nil {
		if err := s.PG.CreateSchema(ctx); err != nil {
			return fmt.Errorf("postgres schema: %w", err)
		}
	}
	return nil
}

// Save writes one pipeline outcome to every open store: the review row, the
// itinerary when there is one, and the analytics row. It returns the review
// row id, or 0 when no review store is open. Failures in one store do not
// stop the others.
func (s *Stores) Save(ctx context.Context, documentID string, res *pipeline.Result, procErr error) (int64, error) {
	var errs []error
	var id int64

	if s.Review != nil && res != nil {
		var err error
		if id, err = s.Review.Insert(InsertParamsFromResult(res)); err != nil {
			errs = append(errs, fmt.Errorf("sqlite: %w", err))
		}
	}
	if s.PG != nil && procErr == nil && res != nil {
		if err := s.PG.SaveItinerary(ctx, res.Itinerary); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if s.CH != nil {
		if err := s.CH.InsertRun(ctx, RunFromResult(documentID, res, procErr)); err != nil {
			errs = append(errs, fmt.Errorf("clickhouse: %w", err))
		}
	}
	return id, errors.Join(errs...)
}
