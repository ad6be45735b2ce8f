package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/safelend-vault/internal/model"
)

//go:embed schema.sql
var schema string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Amounts are stored as NUMERIC(78,0) raw fixed-point integers so every
// uint256 round-trips exactly.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertEvent(ctx context.Context, e *model.Event) error {
	var position []byte
	if e.Position != nil {
		var err error
		if position, err = json.Marshal(e.Position); err != nil {
			return fmt.Errorf("encode event position: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO vault_events (id, vault_id, kind, account, borrower, amount, shares, collateral, position, period, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11)`,
		e.ID, e.VaultID, string(e.Kind), e.Account, e.Borrower,
		numeric(e.Amount), numeric(e.Shares), numeric(e.Collateral),
		position, int64(e.Period), e.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListEventsByAccount(ctx context.Context, account string) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, vault_id, kind, account, borrower,
		        amount::TEXT, shares::TEXT, collateral::TEXT,
		        position, period, timestamp
		 FROM vault_events WHERE account = $1 OR borrower = $1 ORDER BY timestamp`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *PostgresStore) ListRecentEvents(ctx context.Context, limit int) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, vault_id, kind, account, borrower,
		        amount::TEXT, shares::TEXT, collateral::TEXT,
		        position, period, timestamp
		 FROM vault_events ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *PostgresStore) UpsertPosition(ctx context.Context, vaultID string, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (vault_id, account, collateral, principal, interest, last_update, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6, now())
		 ON CONFLICT (vault_id, account) DO UPDATE
		 SET collateral = EXCLUDED.collateral,
		     principal = EXCLUDED.principal,
		     interest = EXCLUDED.interest,
		     last_update = EXCLUDED.last_update,
		     updated_at = now()`,
		vaultID, p.Account,
		p.Collateral.Dec(), p.Principal.Dec(), p.Interest.Dec(),
		int64(p.LastUpdate),
	)
	return err
}

func (s *PostgresStore) GetPosition(ctx context.Context, vaultID, account string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT account, collateral::TEXT, principal::TEXT, interest::TEXT, last_update
		 FROM positions WHERE vault_id = $1 AND account = $2`, vaultID, account)

	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("position %s/%s: %w", vaultID, account, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s: %w", vaultID, account, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, vaultID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account, collateral::TEXT, principal::TEXT, interest::TEXT, last_update
		 FROM positions WHERE vault_id = $1 ORDER BY account`, vaultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) InsertLiquidationRecord(ctx context.Context, r *model.LiquidationRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO liquidation_records (id, vault_id, borrower, operator, debt_covered, collateral_received, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7)`,
		r.ID, r.VaultID, r.Borrower, r.Operator,
		r.DebtCovered.Dec(), r.CollateralReceived.Dec(), r.Timestamp,
	)
	return err
}

func (s *PostgresStore) ListLiquidationRecords(ctx context.Context, borrower string) ([]model.LiquidationRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, vault_id, borrower, operator,
		        debt_covered::TEXT, collateral_received::TEXT, timestamp
		 FROM liquidation_records WHERE borrower = $1 ORDER BY timestamp`, borrower)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.LiquidationRecord
	for rows.Next() {
		var r model.LiquidationRecord
		var coveredS, receivedS string
		if err := rows.Scan(&r.ID, &r.VaultID, &r.Borrower, &r.Operator,
			&coveredS, &receivedS, &r.Timestamp); err != nil {
			return nil, err
		}
		if r.DebtCovered, err = parseNumeric(coveredS); err != nil {
			return nil, err
		}
		if r.CollateralReceived, err = parseNumeric(receivedS); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// pgxRow is satisfied by both pgx.Row and pgx.Rows.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

type pgxRows interface {
	pgxRow
	Next() bool
	Err() error
}

func scanPosition(row pgxRow) (*model.Position, error) {
	var p model.Position
	var collateralS, principalS, interestS string
	var lastUpdate int64

	if err := row.Scan(&p.Account, &collateralS, &principalS, &interestS, &lastUpdate); err != nil {
		return nil, err
	}

	var err error
	if p.Collateral, err = parseNumeric(collateralS); err != nil {
		return nil, err
	}
	if p.Principal, err = parseNumeric(principalS); err != nil {
		return nil, err
	}
	if p.Interest, err = parseNumeric(interestS); err != nil {
		return nil, err
	}
	p.LastUpdate = uint64(lastUpdate)
	return &p, nil
}

func scanEvents(rows pgxRows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		var e model.Event
		var kind string
		var amountS, sharesS, collateralS *string
		var position []byte
		var period int64

		if err := rows.Scan(&e.ID, &e.VaultID, &kind, &e.Account, &e.Borrower,
			&amountS, &sharesS, &collateralS,
			&position, &period, &e.Timestamp); err != nil {
			return nil, err
		}

		e.Kind = model.EventKind(kind)
		e.Period = uint64(period)

		var err error
		if e.Amount, err = parseOptionalNumeric(amountS); err != nil {
			return nil, err
		}
		if e.Shares, err = parseOptionalNumeric(sharesS); err != nil {
			return nil, err
		}
		if e.Collateral, err = parseOptionalNumeric(collateralS); err != nil {
			return nil, err
		}
		if len(position) > 0 {
			var p model.Position
			if err := json.Unmarshal(position, &p); err != nil {
				return nil, fmt.Errorf("decode event position: %w", err)
			}
			e.Position = &p
		}

		events = append(events, e)
	}
	return events, rows.Err()
}

// numeric renders an optional amount as a NUMERIC literal; nil maps to NULL.
func numeric(x *uint256.Int) *string {
	if x == nil {
		return nil
	}
	s := x.Dec()
	return &s
}

func parseNumeric(s string) (*uint256.Int, error) {
	z, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return z, nil
}

func parseOptionalNumeric(s *string) (*uint256.Int, error) {
	if s == nil {
		return nil, nil
	}
	return parseNumeric(*s)
}
