package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/AnshRaj112/studycrew-backend/internal/auth"
	"github.com/AnshRaj112/studycrew-backend/internal/chat"
	"github.com/AnshRaj112/studycrew-backend/internal/config"
	"github.com/AnshRaj112/studycrew-backend/internal/database"
	"github.com/AnshRaj112/studycrew-backend/internal/handlers"
	"github.com/AnshRaj112/studycrew-backend/internal/middleware"
	"github.com/AnshRaj112/studycrew-backend/internal/routes"
	"github.com/AnshRaj112/studycrew-backend/internal/services"
)

func main() {
	// Load env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	// Load configuration
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL (users, groups, memberships)
	log.Printf("Connecting to PostgreSQL...")
	pg, err := database.ConnectPostgres(cfg.PostgresURI)
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL:", err)
	}
	defer pg.Close()

	// Connect to Redis (sessions, history cache, connect limit)
	log.Printf("Connecting to Redis...")
	rdb, err := database.ConnectRedis(cfg.RedisURI)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	store, closeStore := openMessageStore(ctx, cfg, rdb)
	defer closeStore()

	groups := services.NewGroupDirectory(pg)
	authn := auth.Chain{
		auth.NewJWTAuthenticator(cfg.JWTSecret),
		services.NewSessionStore(rdb),
	}

	svc := chat.NewService(store, groups, chat.Options{
		RateLimit:     cfg.ChatRateLimit,
		RateWindow:    cfg.ChatRateWindow,
		TypingTimeout: cfg.ChatTypingTimeout,
		StoreTimeout:  cfg.ChatStoreTimeout,
	})
	defer svc.Close()
	log.Printf("✅ Chat service ready (%d messages per %s, typing timeout %s)",
		cfg.ChatRateLimit, cfg.ChatRateWindow, cfg.ChatTypingTimeout)

	// Initialize Cloudinary service
	var uploader handlers.Uploader
	if cfg.CloudinaryName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		cld, err := services.NewCloudinaryService(cfg.CloudinaryName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret)
		if err != nil {
			log.Printf("Warning: Failed to initialize Cloudinary: %v", err)
			log.Println("File uploads will not be available")
		} else {
			uploader = cld
			log.Println("✅ Cloudinary service initialized")
		}
	} else {
		log.Println("Warning: Cloudinary credentials not found. File uploads will not be available")
	}

	chatHandler := handlers.NewChatHandler(svc, authn, groups, uploader, cfg.AllowedOrigins)

	// Setup router
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if cfg.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Production: SecurityHeaders → GlobalRateLimit
	if cfg.IsProduction() {
		global := middleware.NewGlobalLimiter()
		go global.Run(ctx)
		for _, mw := range middleware.ProductionSecurity(global) {
			r.Use(mw)
		}
		log.Println("✅ Production security enabled (security headers, per-IP rate limiting)")
	}

	history := middleware.NewHistoryLimiter()
	go history.Auth.Run(ctx)
	go history.Anon.Run(ctx)

	routes.SetupRoutes(r, routes.Deps{
		Chat:           chatHandler,
		HistoryLimiter: history,
		ConnectLimit:   middleware.ConnectRateLimit(rdb, middleware.DefaultConnectLimit, middleware.DefaultConnectWindow),
	})

	log.Println("📋 Registered routes:")
	log.Println("  GET  /health")
	log.Println("  GET  /metrics")
	log.Println("  GET  /ws/chat")
	log.Println("  GET  /api/messages/groups/{groupID}/messages")
	log.Println("  GET  /api/messages/groups/{groupID}/messages/{messageID}")
	log.Println("  POST /api/messages/groups/{groupID}/messages")
	log.Println("  PUT  /api/messages/messages/{messageID}")
	log.Println("  DELETE /api/messages/messages/{messageID}")
	log.Println("  POST /api/chat/upload")

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("🚀 StudyCrew backend running on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
		os.Exit(1)
	}
	log.Println("✅ Server stopped")
}

// openMessageStore returns the configured message store and its cleanup.
func openMessageStore(ctx context.Context, cfg *config.Config, rdb *redis.Client) (chat.MessageStore, func()) {
	if cfg.ChatStore == "memory" {
		log.Println("⚠️  CHAT_STORE=memory: messages are kept in process memory only")
		return chat.NewMemoryStore(), func() {}
	}

	log.Printf("Connecting to MongoDB...")
	client, db, err := database.ConnectMongo(cfg.MongoURI)
	if err != nil {
		log.Println("Troubleshooting tips:")
		log.Println("1. Check if your IP is whitelisted in MongoDB Atlas")
		log.Println("2. Verify your connection string format (should use mongodb+srv:// for Atlas)")
		log.Println("3. Ensure username and password are correct")
		log.Fatal("Failed to connect to MongoDB:", err)
	}

	mongoStore := services.NewMongoMessageStore(db)
	indexCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := mongoStore.EnsureChatIndexes(indexCtx); err != nil {
		// The unique (sender, clientTempId) index backs send idempotency.
		log.Fatal("Failed to ensure MongoDB chat indexes:", err)
	}
	log.Println("✅ MongoDB chat indexes ensured")

	store := services.NewCachedMessageStore(mongoStore, rdb, cfg.ChatHistoryTTL)
	return store, func() {
		if err := database.DisconnectMongo(client); err != nil {
			log.Printf("MongoDB disconnect: %v", err)
		}
	}
}
