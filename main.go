package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"game-session-broker/config"
	"game-session-broker/handlers"
	"game-session-broker/models"
	"game-session-broker/services"
	"game-session-broker/utils"
	"game-session-broker/workers"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration: ", err)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database: ", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.Save{},
		&models.ScoreSample{},
		&models.SessionSnapshot{},
		&models.ActivityEvent{},
	); err != nil {
		log.Fatal("failed to migrate database: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis: ", err)
	}

	if err := os.MkdirAll(cfg.SavesDir, os.ModePerm); err != nil {
		log.Fatal("failed to ensure saves dir: ", err)
	}
	if err := os.MkdirAll(cfg.FLESavesDir, os.ModePerm); err != nil {
		log.Fatal("failed to ensure slot saves dir: ", err)
	}

	saveStore := utils.NewSaveStore(cfg.SavesDir, cfg.FLESavesDir)
	if cfg.ArchiveBucket != "" {
		archiveClient, err := utils.NewArchiveClient(cfg.ArchiveAccountID, cfg.ArchiveKeyID, cfg.ArchiveKeySecret)
		if err != nil {
			log.Fatal("failed to initialize save archive client: ", err)
		}
		saveStore.EnableArchive(archiveClient, cfg.ArchiveBucket)
		log.Printf("✅ Save archive enabled (bucket %s)", cfg.ArchiveBucket)
	}

	game := services.NewRconController(cfg.ServerHost, cfg.BaseRconPort, cfg.RconPassword, cfg.RconTimeout)
	locker := services.NewRedisSlotLocker(rdb)
	hub := services.NewHub()
	snapshots := services.NewSnapshotService(db, game)
	sessions := services.NewSessionService(db, locker, game, saveStore, hub, snapshots, cfg)
	users := services.NewUserService(db, cfg)
	events := services.NewEventService(db, hub)

	go events.Run(ctx)

	collector := workers.NewScoreCollector(db, game, hub, cfg.ScorePollInterval)
	go collector.Run(ctx)

	sweeper := workers.NewTimeoutSweeper(sessions, cfg.SweepInterval)
	if err := sweeper.Start(); err != nil {
		log.Fatal("failed to start timeout sweeper: ", err)
	}
	defer sweeper.Stop()

	app := fiber.New()
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	handlers.SetupSessionRoutes(app, sessions, events)
	handlers.SetupStreamRoutes(app, sessions, hub)
	handlers.SetupUserRoutes(app, users, db, rdb)

	go func() {
		if err := app.Listen(cfg.ListenAddr); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Session broker running on %s (%d slots)", cfg.ListenAddr, cfg.TotalSlots)
	log.Printf("✅ Score polling every %s, timeout sweep every %s", cfg.ScorePollInterval, cfg.SweepInterval)

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := app.Shutdown(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}
