package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"casemark/api/internal/app"
	"casemark/api/internal/authpw"
	"casemark/api/internal/config"
	"casemark/api/internal/email"
	"casemark/api/internal/export"
	"casemark/api/internal/gitrepo"
	"casemark/api/internal/images"
	"casemark/api/internal/realtime"
	"casemark/api/internal/search"
	"casemark/api/internal/session"
	"casemark/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatalf("failed to create repos dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	passwords := authpw.NewService(dataStore)

	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		service = app.NewService(cfg, dataStore, redisStore, passwords)
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
		service = app.NewService(cfg, dataStore, dataStore, passwords)
	}

	hub := realtime.NewHub()
	service.SetBroadcaster(hub)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgFallback(db))
	service.SetSearcher(searchService)
	service.SetIndexer(searchService)
	searchService.ReindexAllFromPG(ctx)

	gitService := gitrepo.New(cfg.ReposDir)
	service.SetPublisher(gitService)

	service.SetExporter(export.NewService())

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioStore, err := images.NewMinioStore(ctx, images.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("object store connection failed: %v", err)
		}
		service.SetImageStore(minioStore)
	} else {
		if err := os.MkdirAll(cfg.ImagesDir, 0o755); err != nil {
			log.Fatalf("failed to create images dir: %v", err)
		}
		service.SetImageStore(images.NewLocalStore(cfg.ImagesDir))
	}

	if strings.TrimSpace(cfg.SMTPHost) != "" {
		emailService := email.NewService(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		})
		if emailService.IsConfigured() {
			service.SetNotifier(emailService)
		}
	}

	wsServer := realtime.NewServer(hub, service, dataStore, cfg.WSOriginPatterns, cfg.WSDebugBypass)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)

	mux := http.NewServeMux()
	mux.Handle("/ws/", wsServer)
	mux.Handle("/", httpServer.Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Casemark API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
