package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ticket_parser/internal/itinerary"
	"ticket_parser/internal/ticket"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// PostgresDB stores mapped itineraries.
type PostgresDB struct {
	pool *pgxpool.Pool
}

// OpenPostgres opens a connection pool to PostgreSQL.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresDB, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// Close closes the PostgreSQL connection pool.
func (d *PostgresDB) Close() {
	d.pool.Close()
}

// Pool returns the underlying pool for direct queries.
func (d *PostgresDB) Pool() *pgxpool.Pool {
	return d.pool
}

// CreateSchema creates the itinerary tables.
func (d *PostgresDB) CreateSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS itineraries (
		id              TEXT PRIMARY KEY,
		booking_ref     TEXT NOT NULL DEFAULT '',
		airline_locator TEXT NOT NULL DEFAULT '',
		airline_code    TEXT NOT NULL DEFAULT '',
		airline_name    TEXT NOT NULL DEFAULT '',
		baggage         TEXT NOT NULL DEFAULT '',
		fare_basis      TEXT NOT NULL DEFAULT '',
		fare_notes      TEXT[] NOT NULL DEFAULT '{}',
		payments        JSONB NOT NULL DEFAULT '[]',
		confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_itineraries_booking_ref ON itineraries(booking_ref);

	CREATE TABLE IF NOT EXISTS itinerary_segments (
		itinerary_id    TEXT NOT NULL REFERENCES itineraries(id) ON DELETE CASCADE,
		sequence        INTEGER NOT NULL,
		flight_number   TEXT NOT NULL,
		airline_code    TEXT NOT NULL DEFAULT '',
		cabin           TEXT NOT NULL DEFAULT '',
		cabin_raw       TEXT NOT NULL DEFAULT '',
		booking_class   TEXT NOT NULL DEFAULT '',
		dep_airport     TEXT NOT NULL,
		dep_city        TEXT NOT NULL DEFAULT '',
		dep_terminal    TEXT NOT NULL DEFAULT '',
		dep_date        TEXT NOT NULL DEFAULT '',
		dep_time        TEXT NOT NULL DEFAULT '',
		dep_local       TEXT NOT NULL DEFAULT '',
		dep_date_source TEXT NOT NULL DEFAULT '',
		arr_airport     TEXT NOT NULL,
		arr_city        TEXT NOT NULL DEFAULT '',
		arr_terminal    TEXT NOT NULL DEFAULT '',
		arr_date        TEXT NOT NULL DEFAULT '',
		arr_time        TEXT NOT NULL DEFAULT '',
		arr_local       TEXT NOT NULL DEFAULT '',
		arr_date_source TEXT NOT NULL DEFAULT '',
		duration        TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (itinerary_id, sequence)
	);

	CREATE INDEX IF NOT EXISTS idx_itinerary_segments_flight ON itinerary_segments(flight_number, dep_date);

	CREATE TABLE IF NOT EXISTS itinerary_passengers (
		itinerary_id    TEXT NOT NULL REFERENCES itineraries(id) ON DELETE CASCADE,
		sequence        INTEGER NOT NULL,
		name            TEXT NOT NULL,
		title           TEXT NOT NULL DEFAULT '',
		given_name      TEXT NOT NULL DEFAULT '',
		surname         TEXT NOT NULL DEFAULT '',
		passenger_type  TEXT NOT NULL DEFAULT '',
		ticket_number   TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (itinerary_id, sequence)
	);
	`

	if _, err := d.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// ErrMissingID is returned when an itinerary without an id is saved.
var ErrMissingID = errors.New("storage: itinerary id is required")

// SaveItinerary upserts it and replaces its segments and passengers in one
// transaction.
func (d *PostgresDB) SaveItinerary(ctx context.Context, it itinerary.Itinerary) error {
	if it.ID == "" {
		return ErrMissingID
	}
	payments, err := json.Marshal(it.Payments)
	if err != nil {
		return fmt.Errorf("marshal payments: %w", err)
	}
	notes := it.FareNotes
	if notes == nil {
		notes = []string{}
	}

	return pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO itineraries (id, booking_ref, airline_locator, airline_code, airline_name,
				baggage, fare_basis, fare_notes, payments, confidence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET
				booking_ref = EXCLUDED.booking_ref,
				airline_locator = EXCLUDED.airline_locator,
				airline_code = EXCLUDED.airline_code,
				airline_name = EXCLUDED.airline_name,
				baggage = EXCLUDED.baggage,
				fare_basis = EXCLUDED.fare_basis,
				fare_notes = EXCLUDED.fare_notes,
				payments = EXCLUDED.payments,
				confidence = EXCLUDED.confidence,
				updated_at = NOW()
		`, it.ID, strings.ToUpper(it.BookingRef), it.AirlineLocator, it.Airline.Code, it.Airline.Name,
			it.Baggage, it.FareBasis, notes, string(payments), it.Confidence)
		if err != nil {
			return fmt.Errorf("upsert itinerary: %w", err)
		}

		batch := &pgx.Batch{}
		batch.Queue(`DELETE FROM itinerary_segments WHERE itinerary_id = $1`, it.ID)
		batch.Queue(`DELETE FROM itinerary_passengers WHERE itinerary_id = $1`, it.ID)
		for i, f := range it.Flights {
			batch.Queue(`
				INSERT INTO itinerary_segments (itinerary_id, sequence, flight_number, airline_code, cabin, cabin_raw,
					booking_class, dep_airport, dep_city, dep_terminal, dep_date, dep_time, dep_local, dep_date_source,
					arr_airport, arr_city, arr_terminal, arr_date, arr_time, arr_local, arr_date_source, duration)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
			`, it.ID, i, f.FlightNumber, f.AirlineCode, f.Cabin, f.CabinRaw, f.BookingClass,
				f.Departure.Airport, f.Departure.City, f.Departure.Terminal, f.Departure.Date, f.Departure.Time,
				f.Departure.Local, string(f.Departure.DateSource),
				f.Arrival.Airport, f.Arrival.City, f.Arrival.Terminal, f.Arrival.Date, f.Arrival.Time,
				f.Arrival.Local, string(f.Arrival.DateSource), f.Duration)
		}
		for i, p := range it.Travellers {
			batch.Queue(`
				INSERT INTO itinerary_passengers (itinerary_id, sequence, name, title, given_name, surname,
					passenger_type, ticket_number)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, it.ID, i, p.Name, p.Title, p.GivenName, p.Surname, string(p.Type), p.TicketNumber)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("write itinerary rows: %w", err)
		}
		return nil
	})
}

// GetItinerary loads an itinerary by id. It returns nil, nil when none exists.
func (d *PostgresDB) GetItinerary(ctx context.Context, id string) (*itinerary.Itinerary, error) {
	var it itinerary.Itinerary
	var payments []byte
	err := d.pool.QueryRow(ctx, `
		SELECT id, booking_ref, airline_locator, airline_code, airline_name, baggage, fare_basis,
			fare_notes, payments, confidence
		FROM itineraries WHERE id = $1
	`, id).Scan(&it.ID, &it.BookingRef, &it.AirlineLocator, &it.Airline.Code, &it.Airline.Name,
		&it.Baggage, &it.FareBasis, &it.FareNotes, &payments, &it.Confidence)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get itinerary: %w", err)
	}
	if len(it.FareNotes) == 0 {
		it.FareNotes = nil
	}
	if err := json.Unmarshal(payments, &it.Payments); err != nil {
		return nil, fmt.Errorf("decode payments: %w", err)
	}

	if it.Flights, err = d.segments(ctx, id); err != nil {
		return nil, err
	}
	if it.Travellers, err = d.passengers(ctx, id); err != nil {
		return nil, err
	}
	return &it, nil
}

// FindByBookingRef returns every itinerary stored under a booking reference.
func (d *PostgresDB) FindByBookingRef(ctx context.Context, ref string) ([]itinerary.Itinerary, error) {
	rows, err := d.pool.Query(ctx, `SELECT id FROM itineraries WHERE booking_ref = $1 ORDER BY created_at`, strings.ToUpper(ref))
	if err != nil {
		return nil, fmt.Errorf("find itineraries: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("find itineraries: %w", err)
	}

	var out []itinerary.Itinerary
	for _, id := range ids {
		it, err := d.GetItinerary(ctx, id)
		if err != nil {
			return nil, err
		}
		if it != nil {
			out = append(out, *it)
		}
	}
	return out, nil
}

func (d *PostgresDB) segments(ctx context.Context, id string) ([]itinerary.Flight, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT flight_number, airline_code, cabin, cabin_raw, booking_class,
			dep_airport, dep_city, dep_terminal, dep_date, dep_time, dep_local, dep_date_source,
			arr_airport, arr_city, arr_terminal, arr_date, arr_time, arr_local, arr_date_source, duration
		FROM itinerary_segments WHERE itinerary_id = $1 ORDER BY sequence
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var flights []itinerary.Flight
	for rows.Next() {
		var f itinerary.Flight
		var depSource, arrSource string
		err := rows.Scan(&f.FlightNumber, &f.AirlineCode, &f.Cabin, &f.CabinRaw, &f.BookingClass,
			&f.Departure.Airport, &f.Departure.City, &f.Departure.Terminal, &f.Departure.Date, &f.Departure.Time,
			&f.Departure.Local, &depSource,
			&f.Arrival.Airport, &f.Arrival.City, &f.Arrival.Terminal, &f.Arrival.Date, &f.Arrival.Time,
			&f.Arrival.Local, &arrSource, &f.Duration)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		f.Departure.DateSource = ticket.DateSource(depSource)
		f.Arrival.DateSource = ticket.DateSource(arrSource)
		flights = append(flights, f)
	}
	return flights, rows.Err()
}

func (d *PostgresDB) passengers(ctx context.Context, id string) ([]itinerary.Traveller, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT name, title, given_name, surname, passenger_type, ticket_number
		FROM itinerary_passengers WHERE itinerary_id = $1 ORDER BY sequence
	`, id)
	if err != nil {
		return nil, fmt.Errorf("query passengers: %w", err)
	}
	defer rows.Close()

	var travellers []itinerary.Traveller
	for rows.Next() {
		var p itinerary.Traveller
		var typ string
		if err := rows.Scan(&p.Name, &p.Title, &p.GivenName, &p.Surname, &typ, &p.TicketNumber); err != nil {
			return nil, fmt.Errorf("scan passenger: %w", err)
		}
		p.Type = itinerary.PassengerType(typ)
		travellers = append(travellers, p)
	}
	return travellers, rows.Err()
}
