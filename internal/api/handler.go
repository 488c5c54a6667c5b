package api

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"order-engine/internal/events"
	"order-engine/internal/monitor"
	"order-engine/internal/order"
)

// OrderService is the intake boundary the HTTP layer drives.
type OrderService interface {
	SubmitOrder(ctx context.Context, req order.OrderRequest) (order.Order, error)
	Get(ctx context.Context, id string) (order.Order, error)
	Recent(ctx context.Context, limit int) ([]order.Order, error)
}

// Server wires HTTP and WebSocket endpoints around the order service.
type Server struct {
	Router    *gin.Engine
	Orders    OrderService
	Publisher *events.Publisher
	Metrics   *monitor.Metrics
	Meta      SystemMeta

	log         *zap.Logger
	maxAttempts int
	started     time.Time
	mu          sync.Mutex
	srv         *http.Server
}

// SystemMeta describes the running service on the index endpoint.
type SystemMeta struct {
	Version     string
	Environment string
	Providers   []string
}

// Options tune the middleware stack and the status stream.
type Options struct {
	RequestsPerSecond float64
	Burst             int
	// MaxAttempts lets the status stream close at once for an order that
	// already failed its last attempt. Zero only treats CONFIRMED as final.
	MaxAttempts int
}

func NewServer(orders OrderService, publisher *events.Publisher, metrics *monitor.Metrics, meta SystemMeta, opts Options, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = 50
	}

	useJSONFieldNames()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))
	r.Use(RateLimitMiddleware(opts.RequestsPerSecond, opts.Burst, log))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Orders:    orders,
		Publisher: publisher,
		Metrics:   metrics,
		Meta:      meta,
		log:         log,
		maxAttempts: opts.MaxAttempts,
		started:     time.Now(),
	}
	s.routes()
	return s
}

var fieldNamesOnce sync.Once

// useJSONFieldNames makes gin's validator report fields by JSON name, matching
// the errors returned by the order service.
func useJSONFieldNames() {
	fieldNamesOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
}

func (s *Server) routes() {
	s.Router.GET("/", s.index)
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", gin.WrapH(s.Metrics.Handler()))

	orders := s.Router.Group("/api/orders")
	{
		orders.POST("/execute", s.createOrder)
		orders.GET("", s.listOrders)
		orders.GET("/:orderId", s.getOrder)
		orders.GET("/status/:orderId", s.orderStatusStream)
	}
}

// Start serves on addr until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	s.log.Info("http server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for active requests.
// Hijacked WebSocket connections are not tracked by net/http and end when
// their order finishes or the client leaves.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
