// Package server assembles the HTTP surface: store, embedder, retriever and
// reasoner wired behind a fiber app.
package server

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"policypilot/app/agent"
	"policypilot/app/api"
	"policypilot/ingest"
	"policypilot/model"
	"policypilot/retrieve"
	"policypilot/store"
	"policypilot/types"
)

var config = fiber.Config{
	ErrorHandler: api.ErrorHandler,
}

type Server struct {
	cfg    types.Config
	logger *slog.Logger

	app   *fiber.App
	store store.Storer
}

func NewServer(cfg types.Config) *Server {
	return &Server{
		cfg:    cfg,
		logger: slog.Default(),
	}
}

func (s *Server) Stop() {
	if s.app != nil {
		if err := s.app.Shutdown(); err != nil {
			s.logger.Error("error on fiber shutdown", "error", err.Error())
		}
	}
	if s.store != nil {
		s.store.Close()
	}
	s.logger.Info("server stopped")
}

func (s *Server) Run() {
	ctx := context.Background()

	embedder, err := model.NewEmbedderFromEnv()
	if err != nil {
		log.Fatal("error to create embedder: ", err)
		return
	}

	s.store, err = newStore(ctx, s.cfg, embedder.Dimension())
	if err != nil {
		log.Fatal("error to open embedding store: ", err)
		return
	}

	ingestor := ingest.New(s.cfg)
	retriever := retrieve.New(s.store, embedder, ingestor, s.cfg)
	if err := retriever.LoadIndex(ctx); err != nil {
		log.Fatal("error to load index: ", err)
		return
	}

	reasoner := agent.NewReasoner()
	if reasoner == nil {
		s.logger.Warn("no OPENAI_API_KEY, reasoning disabled")
	}

	var (
		app            = fiber.New(config)
		checkHandler   = api.NewCheckHandler(retriever, reasoner)
		requestHandler = api.NewRequestHandler(retriever, reasoner, s.cfg)
		check          = app.Group("/check")
		apiv1          = app.Group("/api/v1")
	)
	s.app = app

	check.Get("/healthy", checkHandler.HandleHealthy)
	apiv1.Post("/query", requestHandler.HandleQuery)
	apiv1.Post("/upload", requestHandler.HandleUpload)
	apiv1.Get("/search/:query", requestHandler.HandleSearch)
	apiv1.Get("/documents", requestHandler.HandleListDocuments)
	apiv1.Delete("/documents/:source", requestHandler.HandleDeleteDocument)

	if err := app.Listen(s.cfg.ListenAddr); err != nil {
		s.logger.Error("error to start server", "error", err.Error())
		return
	}
}

// newStore picks Postgres when connection settings are present, the JSON file
// store otherwise.
func newStore(ctx context.Context, cfg types.Config, dim int) (store.Storer, error) {
	if os.Getenv("PG_HOST") == "" {
		return store.NewFileStore(cfg.DataDir)
	}

	port, _ := strconv.Atoi(os.Getenv("PG_PORT"))
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		os.Getenv("PG_HOST"), port, os.Getenv("PG_USER"), os.Getenv("PG_PASS"), os.Getenv("PG_DB_NAME"))
	return store.NewPostgresStore(ctx, connStr, dim)
}
