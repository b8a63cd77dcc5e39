package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/susu3304/anklavbot/internal/config"
	"github.com/susu3304/anklavbot/internal/directory"
	"github.com/susu3304/anklavbot/internal/equity"
	"github.com/susu3304/anklavbot/internal/message"
	"github.com/susu3304/anklavbot/internal/metrics"
)

// Store is the persistence the API writes through. Both the Postgres and
// the in-memory store satisfy it.
type Store interface {
	CreateRoom(ctx context.Context, g *equity.Group) error
	GetRoom(ctx context.Context, id string) (*equity.Group, error)
	AddSubmission(ctx context.Context, roomID string, sub equity.Submission) (int, int, error)
	ArchiveByParticipant(ctx context.Context, participantID string) (*equity.Archived, error)
	UpsertUser(ctx context.Context, u *directory.User) (bool, error)
	UserByID(ctx context.Context, id string) (*directory.User, error)
}

type Sender interface {
	Send(ctx context.Context, to message.Recipient, msg message.Message) error
}

type Invalidator interface {
	Invalidate(id string)
}

type API struct {
	router      *mux.Router
	store       Store
	config      *config.Config
	sender      Sender
	cache       Invalidator
	metrics     *metrics.Manager
	logger      *zap.Logger
	server      *http.Server
	newRoomID   func() string
	sendTimeout time.Duration
}

type Option func(*API)

// WithSender enables POST /api/bid; leads go to the configured lead channel.
func WithSender(s Sender) Option {
	return func(a *API) { a.sender = s }
}

func WithDirectoryCache(c Invalidator) Option {
	return func(a *API) { a.cache = c }
}

func WithMetrics(m *metrics.Manager) Option {
	return func(a *API) { a.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(a *API) { a.logger = l }
}

func New(cfg *config.Config, store Store, opts ...Option) *API {
	api := &API{
		router:      mux.NewRouter(),
		store:       store,
		config:      cfg,
		logger:      zap.NewNop(),
		newRoomID:   newRoomID,
		sendTimeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(api)
	}
	api.logger = api.logger.Named("api")

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	rooms := a.router.PathPrefix("/api/rooms").Subrouter()
	rooms.HandleFunc("/create", a.handleCreateRoom).Methods("POST")
	rooms.HandleFunc("/{roomId}/answer", a.handleAddAnswer).Methods("POST")
	rooms.HandleFunc("/{roomId}", a.handleGetRoom).Methods("GET")

	a.router.HandleFunc("/api/check/user", a.handleCheckUser).Methods("POST")
	a.router.HandleFunc("/api/bid", a.handleBid).Methods("POST")

	a.router.Handle("/metrics", a.metrics.Handler()).Methods("GET")
}

// Handler is the router wrapped in CORS for the web app.
func (a *API) Handler() http.Handler {
	// The web app is served from another origin and sends no credentials.
	corsOptions := cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	}
	return cors.New(corsOptions).Handler(a.router)
}

// Start serves until Shutdown is called.
func (a *API) Start() error {
	a.server = &http.Server{
		Addr:              a.config.WebBind,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.logger.Info("API server listening", zap.String("addr", "http://"+a.config.WebBind))
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *API) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}
