package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"usersvc/internal/cache"
	"usersvc/internal/config"
	"usersvc/internal/db"
	"usersvc/internal/logger"
	"usersvc/internal/repository"
	"usersvc/internal/service"
)

var rootCmd = &cobra.Command{
	Use:   "seed",
	Short: "seed loads users into the configured store",
	Long: "seed optionally resets the user collection to the admin account and then " +
		"creates the users listed in a YAML or JSON file (local path or http(s) URL). " +
		"Usernames that already exist are skipped.",
	SilenceUsage: true,
	RunE:         rootRunE,
}

var (
	sourceFile string
	reset      bool
)

func rootRunE(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(logger.Config{Env: cfg.LogEnv, Level: cfg.LogLevel, ServiceName: "usersvc-seed"})
	defer func() { _ = log.Sync() }()
	ctx := cmd.Context()

	coll, closeStore, err := db.OpenCollection(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	repo, err := repository.NewUserRepository(ctx, coll, log)
	if err != nil {
		return err
	}
	userCache, closeCache := cache.Open(ctx, cfg, log)
	defer func() { _ = closeCache() }()
	if cfg.CacheDriver == config.CacheMemory {
		log.Warn("memory cache is process-local; a running server keeps its cached users until CACHE_TTL",
			zap.Duration("cache_ttl", cfg.CacheTTL))
	}
	svc := service.NewUserService(repo, userCache, service.Options{
		AdminUsername: cfg.AdminUsername,
		CacheTTL:      cfg.CacheTTL,
		Logger:        log,
	})

	if reset {
		n, err := svc.DeleteUser(ctx, service.ReservedUsername)
		if err != nil {
			return err
		}
		if _, err := svc.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
			return err
		}
		log.Info("collection reset", zap.Int64("deleted", n))
	}

	if sourceFile == "" {
		return nil
	}
	users, err := loadSeedUsers(ctx, sourceFile)
	if err != nil {
		return err
	}
	log.Info("loaded seed users", zap.String("source", sourceFile), zap.Int("count", len(users)))

	res, err := seedUsers(ctx, svc, users, log)
	if err != nil {
		return err
	}
	log.Info("seed completed",
		zap.Int("created", res.Created),
		zap.Int("skipped", res.Skipped),
		zap.Int("total", res.Created+res.Skipped),
	)
	return nil
}

func main() {
	rootCmd.Flags().StringVarP(&sourceFile, "file", "f", "", "YAML or JSON list of users (path or http(s) URL)")
	rootCmd.Flags().BoolVar(&reset, "reset", false, "delete every user except the admin and recreate the admin first")
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
