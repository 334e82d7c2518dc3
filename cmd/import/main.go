package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/ezpark/internal/config"
	"github.com/langchou/ezpark/internal/models"
	"github.com/langchou/ezpark/internal/repository"
	"github.com/langchou/ezpark/internal/seed"
)

// catalogSink 把导入写到目录与车位仓库
type catalogSink struct {
	*repository.CatalogRepository
	spots *repository.SpotRepository
}

func (s catalogSink) UpsertSpot(ctx context.Context, spot *models.Spot) error {
	return s.spots.Upsert(ctx, spot)
}

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	dir := flag.String("dir", cfg.SeedDir, "directory containing decks.json, levels.json and spots.json")
	flag.Parse()

	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	data, err := seed.Load(*dir, logger)
	if err != nil {
		logger.Fatal("Failed to load seed data", zap.String("dir", *dir), zap.Error(err))
	}

	db, err := repository.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	sink := catalogSink{
		CatalogRepository: repository.NewCatalogRepository(db.Pool),
		spots:             repository.NewSpotRepository(db.Pool),
	}
	res, err := seed.Import(ctx, sink, data, logger)
	if err != nil {
		logger.Fatal("Import failed", zap.Error(err))
	}

	logger.Info("Import finished",
		zap.Int("decks", res.Decks),
		zap.Int("levels", res.Levels),
		zap.Int("spots", res.Spots),
		zap.Int("skipped", res.Skipped),
	)
}

func initLogger(debug bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	logger, _ := config.Build()
	return logger
}
