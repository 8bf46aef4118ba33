// Package sql holds the strategy_configs queries.
package sql

import (
	"context"
	"time"

	"strategy_runtime/pkg/db"
)

type Queries struct{}

func New() *Queries { return &Queries{} }

type Row struct {
	ID            int64
	StrategyID    *string
	UserID        string
	AccountID     string
	StrategyType  string
	ConnectorName string
	TradingPair   string
	Timeframe     string
	Params        []byte
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

const columns = `id, strategy_id, user_id, account_id, strategy_type, connector_name,
	trading_pair, timeframe, params, status, created_at, updated_at`

type InsertParams struct {
	UserID        string
	AccountID     string
	StrategyType  string
	ConnectorName string
	TradingPair   string
	Timeframe     string
	Params        []byte
	Status        string
}

const insert = `INSERT INTO strategy_configs
	(user_id, account_id, strategy_type, connector_name, trading_pair, timeframe, params, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, created_at, updated_at`

func (q *Queries) Insert(ctx context.Context, tx db.Transaction, arg *InsertParams) (id int64, createdAt, updatedAt time.Time, err error) {
	err = tx.QueryRow(ctx, insert,
		arg.UserID, arg.AccountID, arg.StrategyType, arg.ConnectorName,
		arg.TradingPair, arg.Timeframe, arg.Params, arg.Status,
	).Scan(&id, &createdAt, &updatedAt)
	return
}

type UpdateParams struct {
	ID         int64
	StrategyID *string
	Params     []byte
	Status     string
}

const update = `UPDATE strategy_configs
SET strategy_id = $2, params = $3, status = $4, updated_at = now()
WHERE id = $1`

// Update reports the number of affected rows.
func (q *Queries) Update(ctx context.Context, tx db.Transaction, arg *UpdateParams) (int64, error) {
	tag, err := tx.Exec(ctx, update, arg.ID, arg.StrategyID, arg.Params, arg.Status)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const getByStrategyID = `SELECT ` + columns + ` FROM strategy_configs WHERE strategy_id = $1`

func (q *Queries) GetByStrategyID(ctx context.Context, tx db.Transaction, strategyID string) (Row, error) {
	var r Row
	err := tx.QueryRow(ctx, getByStrategyID, strategyID).Scan(
		&r.ID, &r.StrategyID, &r.UserID, &r.AccountID, &r.StrategyType, &r.ConnectorName,
		&r.TradingPair, &r.Timeframe, &r.Params, &r.Status, &r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

const listByUser = `SELECT ` + columns + ` FROM strategy_configs WHERE user_id = $1 ORDER BY id`

func (q *Queries) ListByUser(ctx context.Context, tx db.Transaction, userID string) ([]Row, error) {
	rows, err := tx.Query(ctx, listByUser, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(
			&r.ID, &r.StrategyID, &r.UserID, &r.AccountID, &r.StrategyType, &r.ConnectorName,
			&r.TradingPair, &r.Timeframe, &r.Params, &r.Status, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
