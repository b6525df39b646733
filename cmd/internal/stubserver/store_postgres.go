package stubserver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists rooms and turns in PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - Per-room transactional advisory locks keep turn sequence allocation
//   strictly monotonic under concurrent gateways.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "imzo").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("stubserver: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("stubserver: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "imzo",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("stubserver: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) CreateRoom(ctx context.Context, id, title string, now time.Time) (Room, error) {
	if s == nil || s.pool == nil {
		return Room{}, errors.New("stubserver: nil store")
	}
	if id == "" {
		return Room{}, errors.New("stubserver: empty room id")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	rooms := pgIdent(s.schema, "rooms")

	var out Room
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+rooms+` (id, title, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		 RETURNING id, title, created_at`,
		id, title, now,
	).Scan(&out.ID, &out.Title, &out.CreatedAt)
	if err != nil {
		return Room{}, fmt.Errorf("insert room: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetRoom(ctx context.Context, id string) (Room, error) {
	if s == nil || s.pool == nil {
		return Room{}, errors.New("stubserver: nil store")
	}

	rooms := pgIdent(s.schema, "rooms")

	var out Room
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, created_at FROM `+rooms+` WHERE id = $1`,
		id,
	).Scan(&out.ID, &out.Title, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Room{}, ErrRoomNotFound
	}
	if err != nil {
		return Room{}, err
	}
	return out, nil
}

func (s *PostgresStore) ListRooms(ctx context.Context) ([]Room, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("stubserver: nil store")
	}

	rooms := pgIdent(s.schema, "rooms")

	rows, err := s.pool.Query(ctx,
		`SELECT id, title, created_at FROM `+rooms+` ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Room, 0, 16)
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.Title, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AppendTurn stores a completed turn with monotonic per-room sequence
// allocation.
func (s *PostgresStore) AppendTurn(ctx context.Context, in AppendTurnInput) (TurnRecord, error) {
	if s == nil || s.pool == nil {
		return TurnRecord{}, errors.New("stubserver: nil store")
	}
	if in.RoomID == "" {
		return TurnRecord{}, errors.New("stubserver: empty room id")
	}
	if err := ctx.Err(); err != nil {
		return TurnRecord{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return TurnRecord{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rooms := pgIdent(s.schema, "rooms")
	cursors := pgIdent(s.schema, "room_cursors")
	turns := pgIdent(s.schema, "turns")

	// Serialize writes per room so seq allocation stays strictly monotonic
	// without races.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.RoomID); err != nil {
		return TurnRecord{}, fmt.Errorf("advisory lock: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+rooms+` WHERE id = $1)`, in.RoomID,
	).Scan(&exists); err != nil {
		return TurnRecord{}, err
	}
	if !exists {
		return TurnRecord{}, ErrRoomNotFound
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+cursors+` (room_id, next_seq)
		 VALUES ($1, 1)
		 ON CONFLICT (room_id) DO NOTHING`,
		in.RoomID,
	); err != nil {
		return TurnRecord{}, err
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`UPDATE `+cursors+`
		    SET next_seq = next_seq + 1,
		        updated_at = now()
		  WHERE room_id = $1
		RETURNING (next_seq - 1)`,
		in.RoomID,
	).Scan(&seq); err != nil {
		return TurnRecord{}, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+turns+` (room_id, seq, request, response, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		in.RoomID, seq, in.Request, in.Response, now,
	); err != nil {
		return TurnRecord{}, fmt.Errorf("insert turn: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return TurnRecord{}, err
	}

	return TurnRecord{
		RoomID:    in.RoomID,
		Seq:       seq,
		Request:   in.Request,
		Response:  in.Response,
		CreatedAt: now,
	}, nil
}

// History returns a room's turns ordered by seq ASC.
func (s *PostgresStore) History(ctx context.Context, roomID string) ([]TurnRecord, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("stubserver: nil store")
	}
	if roomID == "" {
		return nil, errors.New("stubserver: empty room id")
	}

	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}

	turns := pgIdent(s.schema, "turns")

	rows, err := s.pool.Query(ctx,
		`SELECT room_id, seq, request, response, created_at
		   FROM `+turns+`
		  WHERE room_id = $1
		  ORDER BY seq ASC`,
		roomID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]TurnRecord, 0, 32)
	for rows.Next() {
		var t TurnRecord
		if err := rows.Scan(&t.RoomID, &t.Seq, &t.Request, &t.Response, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
