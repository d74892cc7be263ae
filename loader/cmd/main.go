package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"policypilot/ingest"
	"policypilot/loader"
	"policypilot/model"
	"policypilot/retrieve"
	"policypilot/store"
	"policypilot/types"
)

func init() {
	loadEnvVariables()
}

func main() {
	ctx := context.Background()
	cfg := types.ConfigFromEnv()

	embedder, err := model.NewEmbedderFromEnv()
	if err != nil {
		log.Fatal("error to create embedder: ", err)
		return
	}

	st, err := newStore(ctx, cfg, embedder.Dimension())
	if err != nil {
		log.Fatal("error to open embedding store: ", err)
		return
	}

	retriever := retrieve.New(st, embedder, ingest.New(cfg), cfg)
	if err := retriever.LoadIndex(ctx); err != nil {
		log.Fatal("error to load index: ", err)
		return
	}

	loader.New(retriever, cfg).Run()

	log.Println("Closing embedding store...")
	st.Close()
}

func newStore(ctx context.Context, cfg types.Config, dim int) (store.Storer, error) {
	if os.Getenv("PG_HOST") == "" {
		return store.NewFileStore(cfg.DataDir)
	}

	port, _ := strconv.Atoi(os.Getenv("PG_PORT"))
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		os.Getenv("PG_HOST"), port, os.Getenv("PG_USER"), os.Getenv("PG_PASS"), os.Getenv("PG_DB_NAME"))
	return store.NewPostgresStore(ctx, connStr, dim)
}

func loadEnvVariables() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using process environment")
	}
}
