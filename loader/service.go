package loader

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"policypilot/retrieve"
	"policypilot/types"
)

// Service ties the watcher to the retrieval pipeline: watched files get
// ingested, embedded, stored and indexed, then archived.
type Service struct {
	logger    *slog.Logger
	retriever *retrieve.Retriever
	watcher   *Watcher
}

func New(retriever *retrieve.Retriever, cfg types.Config) *Service {
	return &Service{
		logger:    slog.Default(),
		retriever: retriever,
		watcher:   NewWatcher(cfg),
	}
}

func (s *Service) Stop() {
	s.logger.Info("Loader Service stopped")
}

func (s *Service) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fileChan := make(chan string, 10)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(fileChan)
		s.watcher.Watch(ctx, fileChan)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.processFiles(ctx, fileChan)
	}()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)

	<-sigch
	log.Println("Received shutdown signal, shutting down gracefully...")

	cancel()
	signal.Stop(sigch)
	close(sigch)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All goroutines stopped successfully")
	case <-shutdownCtx.Done():
		log.Println("Timeout waiting for goroutines to stop, forcing shutdown...")
	}

	s.Stop()
}

func (s *Service) processFiles(ctx context.Context, fileChan <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case filePath, ok := <-fileChan:
			if !ok {
				return
			}

			log.Printf("[LOADER] processing %s", filePath)
			chunks, err := s.retriever.AddDocument(ctx, filePath, filepath.Base(filePath))
			s.watcher.Release(filePath)

			if err != nil {
				log.Printf("[LOADER] error processing %s: %v", filePath, err)
				s.watcher.MoveToArchive(filePath, 1)
				continue
			}

			log.Printf("[LOADER] ingested %s (%d chunks)", filePath, len(chunks))
			s.watcher.MoveToArchive(filePath, 0)
		}
	}
}
