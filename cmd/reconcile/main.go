package main

import (
	"context"
	"flag"
	"log"

	"studyhub/internal/config"
	"studyhub/internal/ledger"
	"studyhub/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	var (
		creatorID = flag.String("creator", "", "ID создателя для сверки (пусто = все создатели)")
		dryRun    = flag.Bool("dry-run", true, "Только показать расхождения, не исправляя балансы")
	)
	flag.Parse()

	// Инициализация логгера
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Ошибка инициализации логгера:", err)
	}
	defer logger.Sync()

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}

	// Подключение к базе данных
	st, err := store.NewStore(cfg, logger)
	if err != nil {
		logger.Fatal("Ошибка подключения к базе данных", zap.Error(err))
	}
	defer st.Close()

	ctx := context.Background()
	reconciler := ledger.NewReconciler(st, logger)
	fix := !*dryRun

	var drifts []*ledger.Drift
	if *creatorID != "" {
		id, err := uuid.Parse(*creatorID)
		if err != nil {
			logger.Fatal("Неверный ID создателя", zap.String("creator", *creatorID), zap.Error(err))
		}
		d, err := reconciler.Check(ctx, id, fix)
		if err != nil {
			logger.Fatal("Ошибка сверки", zap.Error(err))
		}
		if d.HasDrift() {
			drifts = append(drifts, d)
		}
	} else {
		drifts, err = reconciler.CheckAll(ctx, fix)
		if err != nil {
			logger.Fatal("Ошибка сверки", zap.Error(err))
		}
	}

	for _, d := range drifts {
		logger.Warn("Расхождение баланса",
			zap.String("creator_id", d.CreatorID.String()),
			zap.String("stored_available", d.Stored.Available.String()),
			zap.String("expected_available", d.Expected.Available.String()),
			zap.String("stored_reserved", d.Stored.Reserved.String()),
			zap.String("expected_reserved", d.Expected.Reserved.String()),
			zap.String("stored_total_withdrawn", d.Stored.TotalWithdrawn.String()),
			zap.String("expected_total_withdrawn", d.Expected.TotalWithdrawn.String()),
			zap.String("attributed_credits", d.AttributedCredits.String()),
			zap.String("ledger_credits", d.Expected.Credited.String()))
	}

	logger.Info("Сверка балансов завершена",
		zap.Int("drifts", len(drifts)),
		zap.Bool("dry_run", *dryRun))
}
