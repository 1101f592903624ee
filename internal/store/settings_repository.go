package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrSettingNotFound возвращается, если настройка отсутствует
var ErrSettingNotFound = errors.New("настройка не найдена")

// PostgresSettingsRepository реализует SettingsRepository для PostgreSQL
type PostgresSettingsRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewSettingsRepository создает новый репозиторий настроек
func NewSettingsRepository(db DBTX, logger *zap.Logger) SettingsRepository {
	return &PostgresSettingsRepository{
		db:     db,
		logger: logger,
	}
}

// Get возвращает значение настройки
func (r *PostgresSettingsRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRow(ctx, `SELECT value FROM platform_settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrSettingNotFound
		}
		return "", fmt.Errorf("ошибка получения настройки %s: %w", key, err)
	}
	return value, nil
}

// Set сохраняет значение настройки
func (r *PostgresSettingsRepository) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO platform_settings (key, value, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`

	if _, err := r.db.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("ошибка сохранения настройки %s: %w", key, err)
	}
	return nil
}

// All возвращает все настройки
func (r *PostgresSettingsRepository) All(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.Query(ctx, `SELECT key, value FROM platform_settings`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения настроек: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("ошибка сканирования настройки: %w", err)
		}
		settings[key] = value
	}
	return settings, rows.Err()
}
