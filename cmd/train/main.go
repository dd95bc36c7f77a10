// Command train fits a model from a CSV file offline. A running server that
// watches the same model path picks the result up.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"learnask/config"
	"learnask/db"
	"learnask/logger"
	"learnask/ml"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	dataPath := flag.String("data", "", "training CSV file (last column is the label)")
	modelPath := flag.String("model", "", "model output path (default: model.path from config)")
	trees := flag.Int("trees", 0, "number of trees (default: forest.trees from config)")
	maxDepth := flag.Int("max-depth", 0, "max tree depth, 0 for unlimited")
	testRatio := flag.Float64("test-ratio", -1, "holdout ratio for the accuracy estimate")
	seed := flag.Int64("seed", 0, "random seed, 0 for time based")
	encoding := flag.String("encoding", "", "input charset, e.g. utf-8, gbk, latin1")
	delimiter := flag.String("delimiter", "", "field delimiter")
	record := flag.Bool("record", true, "append the run to the training log database")
	flag.Parse()

	if *dataPath == "" {
		log.Fatal("data is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	applyFlags(cfg, *modelPath, *trees, *maxDepth, *testRatio, *seed, *encoding, *delimiter)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid options: %v", err)
	}

	zlog, err := logger.New(logger.Options{Level: cfg.Log.Level, Format: "console"})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zlog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ds, err := loadDataset(*dataPath, cfg)
	if err != nil {
		zlog.Fatal("failed to read training data", zap.String("path", *dataPath), zap.Error(err))
	}

	start := time.Now()
	model, err := ml.Train(ctx, ds, ml.TrainConfig{
		Trees:            cfg.Forest.Trees,
		MaxDepth:         cfg.Forest.MaxDepth,
		MinSamplesSplit:  cfg.Forest.MinSamplesSplit,
		MaxFeatures:      cfg.Forest.MaxFeatures,
		DisableBootstrap: cfg.Forest.DisableBootstrap,
		Seed:             cfg.Forest.Seed,
		TestRatio:        cfg.Forest.TestRatio,
	})
	if err != nil {
		zlog.Fatal("failed to train model", zap.Error(err))
	}
	elapsed := time.Since(start)

	if err := model.Save(cfg.Model.Path); err != nil {
		zlog.Fatal("failed to save model", zap.String("path", cfg.Model.Path), zap.Error(err))
	}

	summary := model.Summary()
	if *record && cfg.Database.Path != "" {
		if err := recordRun(ctx, cfg.Database.Path, *dataPath, summary, elapsed); err != nil {
			zlog.Warn("failed to record training run", zap.Error(err))
		}
	}

	zlog.Info("model trained",
		zap.String("model_id", summary.ID),
		zap.Int("rows", summary.Rows),
		zap.Int("features", summary.Features),
		zap.Strings("classes", summary.Classes),
		zap.Duration("duration", elapsed),
	)
	if summary.HoldoutAccuracy != nil {
		fmt.Printf("holdout accuracy=%.4f\n", *summary.HoldoutAccuracy)
	} else {
		fmt.Println("holdout accuracy=n/a (too few rows)")
	}
	fmt.Printf("model saved to %s\n", cfg.Model.Path)
}

func applyFlags(cfg *config.Config, modelPath string, trees, maxDepth int, testRatio float64, seed int64, encoding, delimiter string) {
	if modelPath != "" {
		cfg.Model.Path = modelPath
	}
	if trees > 0 {
		cfg.Forest.Trees = trees
	}
	if maxDepth > 0 {
		cfg.Forest.MaxDepth = maxDepth
	}
	if testRatio >= 0 {
		cfg.Forest.TestRatio = testRatio
	}
	if seed != 0 {
		cfg.Forest.Seed = seed
	}
	if encoding != "" {
		cfg.Dataset.Encoding = encoding
	}
	if delimiter != "" {
		cfg.Dataset.Delimiter = delimiter
	}
}

func loadDataset(path string, cfg *config.Config) (*ml.Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ml.ParseDataset(file, ml.ParseOptions{
		Comma:    cfg.Delimiter(),
		Encoding: cfg.Dataset.Encoding,
	})
}

func recordRun(ctx context.Context, dbPath, source string, summary ml.Summary, elapsed time.Duration) error {
	database, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()
	return database.SaveTrainingLog(ctx, db.TrainingLog{
		ModelID:    summary.ID,
		Source:     source,
		Rows:       summary.Rows,
		Features:   summary.Features,
		Classes:    summary.Classes,
		Trees:      summary.Trees,
		Accuracy:   summary.HoldoutAccuracy,
		DurationMS: elapsed.Milliseconds(),
		TrainedAt:  summary.TrainedAt,
	})
}
