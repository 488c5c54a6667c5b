package order

import (
	"context"

	"order-engine/pkg/db"
)

// Store persists orders. Implementations return db.ErrNotFound for unknown
// ids and db.ErrDuplicate when an id is reused.
type Store interface {
	CreateOrder(ctx context.Context, o Order) (Order, error)
	UpdateStatus(ctx context.Context, id string, status Status, f Fields) (Order, error)
	FindByID(ctx context.Context, id string) (Order, error)
	FindByStatus(ctx context.Context, status Status) ([]Order, error)
	FindRecent(ctx context.Context, limit int) ([]Order, error)
}

// SQLStore is the SQLite-backed Store.
type SQLStore struct {
	db *db.Database
}

func NewSQLStore(database *db.Database) *SQLStore {
	return &SQLStore{db: database}
}

func (s *SQLStore) CreateOrder(ctx context.Context, o Order) (Order, error) {
	row, err := s.db.CreateOrder(ctx, toRow(o))
	if err != nil {
		return Order{}, err
	}
	return fromRow(row), nil
}

func (s *SQLStore) UpdateStatus(ctx context.Context, id string, status Status, f Fields) (Order, error) {
	row, err := s.db.UpdateOrderStatus(ctx, id, string(status), db.OrderUpdate{
		SelectedDex:   f.SelectedDex,
		ExecutedPrice: f.ExecutedPrice,
		TxHash:        f.TxHash,
		Error:         f.Error,
		Attempts:      f.Attempts,
	})
	if err != nil {
		return Order{}, err
	}
	return fromRow(row), nil
}

func (s *SQLStore) FindByID(ctx context.Context, id string) (Order, error) {
	row, err := s.db.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	return fromRow(row), nil
}

func (s *SQLStore) FindByStatus(ctx context.Context, status Status) ([]Order, error) {
	rows, err := s.db.ListOrdersByStatus(ctx, string(status))
	if err != nil {
		return nil, err
	}
	return fromRows(rows), nil
}

func (s *SQLStore) FindRecent(ctx context.Context, limit int) ([]Order, error) {
	rows, err := s.db.ListRecentOrders(ctx, limit)
	if err != nil {
		return nil, err
	}
	return fromRows(rows), nil
}

func toRow(o Order) db.Order {
	return db.Order{
		ID:            o.ID,
		TokenIn:       o.TokenIn,
		TokenOut:      o.TokenOut,
		AmountIn:      o.AmountIn,
		Slippage:      o.Slippage,
		Status:        string(o.Status),
		SelectedDex:   o.SelectedDex,
		ExecutedPrice: o.ExecutedPrice,
		TxHash:        o.TxHash,
		Error:         o.Error,
		Attempts:      o.Attempts,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

func fromRow(r db.Order) Order {
	return Order{
		ID:            r.ID,
		TokenIn:       r.TokenIn,
		TokenOut:      r.TokenOut,
		AmountIn:      r.AmountIn,
		Slippage:      r.Slippage,
		Status:        Status(r.Status),
		SelectedDex:   r.SelectedDex,
		ExecutedPrice: r.ExecutedPrice,
		TxHash:        r.TxHash,
		Error:         r.Error,
		Attempts:      r.Attempts,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func fromRows(rows []db.Order) []Order {
	out := make([]Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out
}
