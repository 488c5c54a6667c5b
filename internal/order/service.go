package order

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"order-engine/pkg/db"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Service is the intake boundary: it validates requests, persists new
// orders as PENDING and hands them to the dispatch queue.
type Service struct {
	store       Store
	queue       *Queue
	maxAttempts int
	validate    *validator.Validate
	log         *zap.Logger
	newID       func() string
}

// NewService creates the intake service. policy tells Recover which FAILED
// orders still had attempts left when the process stopped.
func NewService(store Store, queue *Queue, policy RetryPolicy, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:       store,
		queue:       queue,
		maxAttempts: policy.MaxAttempts(),
		validate:    NewValidator(),
		log:         log,
		newID:       uuid.NewString,
	}
}

// NewValidator returns a validator reading the same "binding" tags gin uses,
// reporting fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.SetTagName("binding")
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// SubmitOrder validates req, stores a PENDING order and enqueues it. If the
// queue is already closed the stored order is returned with ErrQueueClosed;
// it will be recovered on the next start.
func (s *Service) SubmitOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if err := s.validate.Struct(req); err != nil {
		return Order{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	now := time.Now().UTC()
	o := Order{
		ID:        s.newID(),
		TokenIn:   req.TokenIn,
		TokenOut:  req.TokenOut,
		AmountIn:  req.AmountIn,
		Slippage:  *req.Slippage,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	created, err := s.store.CreateOrder(ctx, o)
	if err != nil {
		s.log.Error("create order failed", zap.String("order_id", o.ID), zap.Error(err))
		return Order{}, &PersistenceError{Op: "create", OrderID: o.ID, Err: err}
	}

	if _, err := s.queue.Submit(created); err != nil {
		return created, err
	}
	s.log.Info("order submitted",
		zap.String("order_id", created.ID),
		zap.String("token_in", created.TokenIn),
		zap.String("token_out", created.TokenOut),
		zap.Float64("amount_in", created.AmountIn))
	return created, nil
}

// Get returns the stored order; db.ErrNotFound if unknown.
func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	return s.store.FindByID(ctx, id)
}

// Recent returns up to limit orders, newest first. limit is clamped to
// [1, MaxListLimit] and defaults to DefaultListLimit.
func (s *Service) Recent(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return s.store.FindRecent(ctx, limit)
}

// Recover re-submits, oldest first, every order left in a non-terminal
// status and every FAILED order stopped between attempts. It returns how
// many were queued.
func (s *Service) Recover(ctx context.Context) (int, error) {
	var stale []Order
	for _, st := range ActiveStatuses {
		orders, err := s.store.FindByStatus(ctx, st)
		if err != nil {
			return 0, fmt.Errorf("recover %s orders: %w", st, err)
		}
		stale = append(stale, orders...)
	}
	failed, err := s.store.FindByStatus(ctx, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("recover %s orders: %w", StatusFailed, err)
	}
	for _, o := range failed {
		if !o.Finished(s.maxAttempts) {
			stale = append(stale, o)
		}
	}
	slices.SortStableFunc(stale, func(a, b Order) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	queued := 0
	for _, o := range stale {
		ok, err := s.queue.Submit(o)
		if err != nil {
			return queued, err
		}
		if ok {
			queued++
		}
	}
	if queued > 0 {
		s.log.Info("recovered unfinished orders", zap.Int("count", queued))
	}
	return queued, nil
}

// IsNotFound reports whether err means the order does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, db.ErrNotFound)
}
