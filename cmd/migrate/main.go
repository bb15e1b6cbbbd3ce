package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/safar/go-marketplace/internal/config"
	"github.com/safar/go-marketplace/internal/database"
	"github.com/safar/go-marketplace/internal/logger"
)

func main() {
	path := flag.String("path", "", "migrations directory (defaults to DATABASE_MIGRATIONS_PATH)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-path dir] up|down")
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	direction := database.Direction(flag.Arg(0))
	if direction != database.DirectionUp && direction != database.DirectionDown {
		fmt.Fprintln(os.Stderr, "Direction must be 'up' or 'down'")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log).Named("migrate")
	defer log.Sync()

	if *path == "" {
		*path = cfg.Database.MigrationsPath
	}

	retry := database.DefaultRetryPolicy()
	retry.Logger = log

	db, err := database.NewConnection(context.Background(), &cfg.Database, retry)
	if err != nil {
		log.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := database.Migrate(db, *path, direction, log); err != nil {
		log.Fatal("run migrations", zap.String("path", *path), zap.Error(err))
	}
}
