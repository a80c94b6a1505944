package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/codeexpert/order-saga/order-service/domain"
	"github.com/codeexpert/order-saga/shared/models"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

var _ domain.SagaRepository = (*PostgresSagaRepository)(nil)

// PostgresSagaRepository persists saga snapshots in the order_sagas table
// with optimistic concurrency on the version column.
type PostgresSagaRepository struct {
	db *sqlx.DB
}

// NewPostgresSagaRepository creates a new PostgresSagaRepository
func NewPostgresSagaRepository(db *sqlx.DB) *PostgresSagaRepository {
	return &PostgresSagaRepository{db: db}
}

// postgresSaga represents a saga snapshot in the database
type postgresSaga struct {
	OrderID   string          `db:"order_id"`
	State     string          `db:"state"`
	Data      json.RawMessage `db:"data"`
	Version   int             `db:"version"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// Create inserts a fresh saga at its current version.
func (r *PostgresSagaRepository) Create(ctx context.Context, saga *domain.OrderSaga) error {
	query := `
		INSERT INTO order_sagas (order_id, state, data, version, created_at, updated_at)
		VALUES (:order_id, :state, :data, :version, :created_at, :updated_at)`

	row, err := r.toPostgres(saga)
	if err != nil {
		return err
	}

	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return errors.Wrap(err, "failed to insert saga")
	}
	return nil
}

// Load returns the current snapshot by order id.
func (r *PostgresSagaRepository) Load(ctx context.Context, orderID models.ID) (*domain.OrderSaga, error) {
	query := `
		SELECT order_id, state, data, version, created_at, updated_at
		FROM order_sagas
		WHERE order_id = $1`

	var row postgresSaga
	if err := r.db.GetContext(ctx, &row, query, orderID.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSagaNotFound
		}
		return nil, errors.Wrap(err, "failed to load saga")
	}

	return r.toDomain(&row)
}

// Save overwrites the snapshot only if the stored version still matches
// expectedVersion.
func (r *PostgresSagaRepository) Save(ctx context.Context, saga *domain.OrderSaga, expectedVersion int) error {
	query := `
		UPDATE order_sagas
		SET state = :state, data = :data, version = :version, updated_at = :updated_at
		WHERE order_id = :order_id AND version = :expected_version`

	row, err := r.toPostgres(saga)
	if err != nil {
		return err
	}

	res, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"order_id":         row.OrderID,
		"state":            row.State,
		"data":             row.Data,
		"version":          row.Version,
		"updated_at":       row.UpdatedAt,
		"expected_version": expectedVersion,
	})
	if err != nil {
		return errors.Wrap(err, "failed to update saga")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read update result")
	}
	if affected == 0 {
		return domain.ErrVersionConflict
	}

	return nil
}

// FindUnfinished returns non-terminal sagas last touched before the cutoff.
func (r *PostgresSagaRepository) FindUnfinished(ctx context.Context, updatedBefore time.Time) ([]*domain.OrderSaga, error) {
	query := `
		SELECT order_id, state, data, version, created_at, updated_at
		FROM order_sagas
		WHERE state NOT IN ($1, $2) AND updated_at < $3
		ORDER BY updated_at ASC`

	var rows []postgresSaga
	err := r.db.SelectContext(ctx, &rows, query,
		domain.StateOrderCompleted.String(),
		domain.StateOrderFailed.String(),
		updatedBefore,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list unfinished sagas")
	}

	sagas := make([]*domain.OrderSaga, 0, len(rows))
	for i := range rows {
		saga, err := r.toDomain(&rows[i])
		if err != nil {
			return nil, err
		}
		sagas = append(sagas, saga)
	}

	return sagas, nil
}

func (r *PostgresSagaRepository) toPostgres(saga *domain.OrderSaga) (*postgresSaga, error) {
	data, err := json.Marshal(saga.Data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal saga data")
	}

	return &postgresSaga{
		OrderID:   saga.OrderID.String(),
		State:     saga.State.String(),
		Data:      data,
		Version:   saga.Version.Value,
		CreatedAt: saga.Timestamps.CreatedAt,
		UpdatedAt: saga.Timestamps.UpdatedAt,
	}, nil
}

func (r *PostgresSagaRepository) toDomain(row *postgresSaga) (*domain.OrderSaga, error) {
	orderID, err := models.NewID(row.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid order ID")
	}

	var data domain.ExtendedData
	if err := json.Unmarshal(row.Data, &data); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal saga data")
	}

	return &domain.OrderSaga{
		OrderID: orderID,
		State:   domain.State(row.State),
		Data:    data,
		Timestamps: models.Timestamps{
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
		},
		Version: models.Version{Value: row.Version},
	}, nil
}
