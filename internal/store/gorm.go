package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	apperrors "popwatch/internal/errors"
)

// GormStore is the Postgres-backed Store implementation.
type GormStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

// PoolConfig tunes the underlying connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to Postgres, applies the schema, and validates the
// connection with a bounded ping.
func Open(ctx context.Context, dsn string, pool PoolConfig, logger *slog.Logger) (*GormStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql db: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&License{}, &DeviceBinding{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	logger.InfoContext(ctx, "store connected",
		slog.String("action", "store_connect"),
		slog.String("backend", "postgres"),
	)
	return &GormStore{db: db, logger: logger}, nil
}

// LicenseByKey implements Store.
func (s *GormStore) LicenseByKey(ctx context.Context, key string) (*License, error) {
	var lic License
	err := s.db.WithContext(ctx).Where("license_key = ?", key).First(&lic).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrLicenseInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up license: %w", err)
	}
	return &lic, nil
}

// BindDevice implements Store. The license row is locked for the duration of
// the transaction so the count-then-insert sequence is serialized per
// license; the unique index on device_id backstops concurrent first-binds of
// the same device.
func (s *GormStore) BindDevice(ctx context.Context, licenseID uint, maxDevices int, deviceID string, now time.Time) (*DeviceBinding, bool, error) {
	var binding DeviceBinding
	var created bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lic License
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&lic, licenseID).Error; err != nil {
			return fmt.Errorf("failed to lock license row: %w", err)
		}

		err := tx.Where("device_id = ?", deviceID).First(&binding).Error
		if err == nil {
			if binding.LicenseID != licenseID {
				return apperrors.ErrDeviceConflict
			}
			binding.LastSeen = now
			return tx.Model(&binding).Update("last_seen", now).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to look up device binding: %w", err)
		}

		var count int64
		if err := tx.Model(&DeviceBinding{}).
			Where("license_id = ?", licenseID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("failed to count bindings: %w", err)
		}
		if count >= int64(maxDevices) {
			return apperrors.ErrDeviceQuotaExceeded
		}

		binding = DeviceBinding{
			DeviceID:  deviceID,
			LicenseID: licenseID,
			LastSeen:  now,
		}
		if err := tx.Create(&binding).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// Lost a race for the same device against another license's
				// transaction. The invariant holds either way.
				return apperrors.ErrDeviceConflict
			}
			return fmt.Errorf("failed to create binding: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &binding, created, nil
}

// CreateLicense implements Store.
func (s *GormStore) CreateLicense(ctx context.Context, lic *License) error {
	if err := s.db.WithContext(ctx).Create(lic).Error; err != nil {
		return fmt.Errorf("failed to create license: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
