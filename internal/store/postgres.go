package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studyhub/internal/config"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ErrConcurrentUpdate возвращается, когда условное обновление не затронуло ни одной строки
var ErrConcurrentUpdate = errors.New("запись изменена параллельно")

// DBTX - общий интерфейс пула соединений и транзакции
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store представляет интерфейс для работы с базой данных
type Store interface {
	Tier() TierRepository
	Creator() CreatorRepository
	CMO() CMORepository
	DiscountCode() DiscountCodeRepository
	Attribution() AttributionRepository
	Referral() ReferralRepository
	WithdrawalMethod() WithdrawalMethodRepository
	Withdrawal() WithdrawalRepository
	HeadOps() HeadOpsRepository
	Ledger() LedgerRepository
	Settings() SettingsRepository

	// WithTx выполняет fn в одной транзакции. Вложенный вызов переиспользует текущую транзакцию.
	WithTx(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error
	Close() error
}

// store реализует интерфейс Store поверх PostgreSQL
type store struct {
	pool   *pgxpool.Pool
	db     DBTX
	inTx   bool
	logger *zap.Logger

	tier       TierRepository
	creator    CreatorRepository
	cmo        CMORepository
	discount   DiscountCodeRepository
	attrib     AttributionRepository
	referral   ReferralRepository
	method     WithdrawalMethodRepository
	withdrawal WithdrawalRepository
	headOps    HeadOpsRepository
	ledger     LedgerRepository
	settings   SettingsRepository
}

// NewStore создает новое подключение к базе данных
func NewStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Создание пула подключений
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	// Настройка пула
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}

	// Проверка подключения
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ошибка проверки подключения к базе данных: %w", err)
	}

	logger.Info("успешное подключение к базе данных PostgreSQL")

	return newStore(pool, pool, false, logger), nil
}

func newStore(pool *pgxpool.Pool, db DBTX, inTx bool, logger *zap.Logger) *store {
	s := &store{
		pool:   pool,
		db:     db,
		inTx:   inTx,
		logger: logger,
	}

	// Инициализация репозиториев
	s.tier = NewTierRepository(db, logger)
	s.creator = NewCreatorRepository(db, logger)
	s.cmo = NewCMORepository(db, logger)
	s.discount = NewDiscountCodeRepository(db, logger)
	s.attrib = NewAttributionRepository(db, logger)
	s.referral = NewReferralRepository(db, logger)
	s.method = NewWithdrawalMethodRepository(db, logger)
	s.withdrawal = NewWithdrawalRepository(db, logger)
	s.headOps = NewHeadOpsRepository(db, logger)
	s.ledger = NewLedgerRepository(db, logger)
	s.settings = NewSettingsRepository(db, logger)

	return s
}

func (s *store) Tier() TierRepository                         { return s.tier }
func (s *store) Creator() CreatorRepository                   { return s.creator }
func (s *store) CMO() CMORepository                           { return s.cmo }
func (s *store) DiscountCode() DiscountCodeRepository         { return s.discount }
func (s *store) Attribution() AttributionRepository           { return s.attrib }
func (s *store) Referral() ReferralRepository                 { return s.referral }
func (s *store) WithdrawalMethod() WithdrawalMethodRepository { return s.method }
func (s *store) Withdrawal() WithdrawalRepository             { return s.withdrawal }
func (s *store) HeadOps() HeadOpsRepository                   { return s.headOps }
func (s *store) Ledger() LedgerRepository                     { return s.ledger }
func (s *store) Settings() SettingsRepository                 { return s.settings }

// WithTx выполняет fn в транзакции READ COMMITTED. Строки баланса блокируются через FOR UPDATE.
func (s *store) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Error("ошибка отката транзакции", zap.Error(rbErr))
		}
	}()

	if err := fn(newStore(s.pool, tx, true, s.logger)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// Ping проверяет подключение к базе данных
func (s *store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close закрывает подключение к базе данных
func (s *store) Close() error {
	s.logger.Info("закрытие подключения к базе данных")
	s.pool.Close()
	return nil
}

// notFound преобразует pgx.ErrNoRows в models.ErrNotFound
func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, errNotFound)
	}
	return fmt.Errorf("ошибка получения %s: %w", what, err)
}
