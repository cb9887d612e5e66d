// cmd/api/main.go
// Bootstraps all components and starts the API server

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lektorhjelp/lektorhjelp-backend/internal/auth"
	"github.com/lektorhjelp/lektorhjelp-backend/internal/chat"
	"github.com/lektorhjelp/lektorhjelp-backend/internal/common/database"
	"github.com/lektorhjelp/lektorhjelp-backend/internal/common/logging"
	"github.com/lektorhjelp/lektorhjelp-backend/internal/common/utils"
	"github.com/lektorhjelp/lektorhjelp-backend/internal/config"
	"github.com/lektorhjelp/lektorhjelp-backend/internal/listings"
	"github.com/lektorhjelp/lektorhjelp-backend/internal/moderation"
	notifications "github.com/lektorhjelp/lektorhjelp-backend/internal/notification"
	"github.com/lektorhjelp/lektorhjelp-backend/internal/push"
	"github.com/lektorhjelp/lektorhjelp-backend/internal/users"
)

var startTime = time.Now()

func main() {
	// 1. Environment and configuration
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, using environment variables")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Environment)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting lektorhjelp chat API",
		zap.String("environment", cfg.Environment),
		zap.String("port", cfg.Port))

	// 2. PostgreSQL
	db, err := database.NewPostgresDBFromURL(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to PostgreSQL", zap.Error(err))
	}
	defer db.Close()
	logger.Info("connected to PostgreSQL")

	// 3. Redis (optional; unread cache and push fan-out degrade without it)
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedisClientFromURL(cfg.RedisURL)
		if err != nil {
			logger.Warn("Redis unavailable, continuing without cache", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
			logger.Info("connected to Redis")
		}
	} else {
		logger.Info("Redis not configured, unread cache disabled")
	}

	// 4. Migrations
	if err := runMigrations(db); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}
	logger.Info("database migrations completed")

	// 5. Email provider
	var emailService notifications.EmailService
	switch cfg.EmailProvider {
	case "sendgrid":
		emailService, err = notifications.NewSendGridEmailService(cfg.SendGridAPIKey, cfg.EmailFrom, cfg.EmailFromName)
		if err != nil {
			logger.Fatal("failed to initialize SendGrid", zap.Error(err))
		}
		logger.Info("using SendGrid for email")
	case "smtp":
		emailService, err = notifications.NewSMTPEmailService(
			cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword,
			cfg.EmailFrom, cfg.EmailFromName)
		if err != nil {
			logger.Fatal("failed to initialize SMTP", zap.Error(err))
		}
		logger.Info("using SMTP for email")
	default:
		emailService = notifications.NewMockEmailService(logger)
		logger.Info("using mock email provider")
	}

	var firstContactMailer chat.FirstContactEmailer
	if cfg.EnableEmailNotifications {
		firstContactMailer = notifications.NewFirstContactMailer(emailService)
	}

	// 6. Chat module
	chatRepo := chat.NewPostgresRepository(db)
	userDir := users.NewPostgresDirectory(db)
	listingDir := listings.NewPostgresDirectory(db)
	checker := moderation.NewChecker()

	var pusher chat.Pusher
	if redisClient != nil {
		pusher = push.NewRedisPusher(redisClient, logger)
	}

	chatService := chat.NewService(chatRepo, userDir, listingDir, checker,
		firstContactMailer, pusher, redisClient, logger, chat.ServiceOptions{
			MaxMessageLength: cfg.MaxMessageLength,
			UnreadCacheTTL:   cfg.UnreadCacheTTL,
		})
	chatHandler := chat.NewHandler(chatService, cfg.PageLimitDefault, cfg.PageLimitMax)

	authMiddleware := auth.NewMiddleware(cfg.JWTSecret)

	// 7. Routes
	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/api/v1/chats/config", queueConfig(cfg)).Methods("GET")

	chat.RegisterRoutes(router, chatHandler, authMiddleware.Authenticate)

	router.Use(loggingMiddleware(logger))
	router.Use(corsMiddleware)

	// 8. HTTP server with graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}
	logger.Info("server exited gracefully")
}

// healthCheck reports liveness and uptime.
func healthCheck(w http.ResponseWriter, r *http.Request) {
	utils.SuccessResponse(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(startTime).String(),
	}, http.StatusOK)
}

// queueConfig serves the send-queue tuning clients should use, so
// retry behavior can be adjusted server-side without an app release.
func queueConfig(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		utils.SuccessResponse(w, map[string]interface{}{
			"batch_size":    cfg.QueueBatchSize,
			"max_retries":   cfg.QueueMaxRetries,
			"base_delay_ms": cfg.QueueBaseDelay.Milliseconds(),
			"max_delay_ms":  cfg.QueueMaxDelay.Milliseconds(),
		}, http.StatusOK)
	}
}

// loggingMiddleware logs every request with its status and duration.
func loggingMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote", r.RemoteAddr))
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// runMigrations creates the chat schema if it does not exist.
func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			username VARCHAR(100) UNIQUE NOT NULL,
			display_name VARCHAR(150),
			email VARCHAR(255) UNIQUE,
			password_hash VARCHAR(255),
			is_active BOOLEAN DEFAULT TRUE,
			is_verified BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS listings (
			id SERIAL PRIMARY KEY,
			owner_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title VARCHAR(200) NOT NULL,
			description TEXT,
			subject VARCHAR(100),
			is_active BOOLEAN DEFAULT TRUE,
			contact_privacy VARCHAR(20) DEFAULT 'anyone',
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS chats (
			id SERIAL PRIMARY KEY,
			participant_key VARCHAR(50) NOT NULL,
			related_listing_id INTEGER REFERENCES listings(id),
			is_active BOOLEAN DEFAULT TRUE,
			last_message_at TIMESTAMP WITH TIME ZONE,
			first_contact_notification_sent BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS chat_participants (
			chat_id INTEGER NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			joined_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
			left_at TIMESTAMP WITH TIME ZONE,
			is_active BOOLEAN DEFAULT TRUE,
			unread_count INTEGER DEFAULT 0,
			last_read_at TIMESTAMP WITH TIME ZONE,
			PRIMARY KEY (chat_id, user_id)
		)`,

		`CREATE TABLE IF NOT EXISTS messages (
			id SERIAL PRIMARY KEY,
			chat_id INTEGER NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			sender_id INTEGER NOT NULL REFERENCES users(id),
			content TEXT NOT NULL,
			type VARCHAR(30) NOT NULL DEFAULT 'TEXT',
			local_id VARCHAR(64) NOT NULL,
			appointment_id INTEGER,
			edited BOOLEAN DEFAULT FALSE,
			edited_at TIMESTAMP WITH TIME ZONE,
			sent_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		)`,

		// One active chat per participant pair and listing. NULL listing
		// ids are folded to 0 so general chats dedup too.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_chats_active_pair
			ON chats (participant_key, COALESCE(related_listing_id, 0))
			WHERE is_active`,

		// Idempotent append: a replayed local id from the same sender
		// hits this index instead of inserting a duplicate.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_replay
			ON messages (chat_id, sender_id, local_id)`,

		`CREATE INDEX IF NOT EXISTS idx_messages_chat_sent
			ON messages (chat_id, sent_at DESC, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_chats_last_message
			ON chats (last_message_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_participants_user
			ON chat_participants (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_listings_owner
			ON listings (owner_id)`,
	}

	for i, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
