// Package store persists licenses and device bindings for the token issuer.
//
// The binding table enforces the one-device-one-license invariant with a
// database-level unique index on device_id, and the quota check-then-insert
// runs inside a transaction holding a row lock on the license, so concurrent
// first-binds can neither duplicate a device row nor overshoot max_devices.
package store

import (
	"context"
	"time"
)

// License is the server-side license record. Records are created and
// deactivated by an external admin surface; the issuer reads them only.
type License struct {
	ID         uint       `gorm:"primaryKey"`
	LicenseKey string     `gorm:"uniqueIndex;size:64;not null"`
	Active     bool       `gorm:"not null;default:true"`
	ExpiresAt  *time.Time `gorm:""`
	MaxDevices int        `gorm:"not null;default:1"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DeviceBinding maps one device to exactly one license. Bindings are
// permanent once created; quota counts every binding ever made.
type DeviceBinding struct {
	ID        uint      `gorm:"primaryKey"`
	DeviceID  string    `gorm:"uniqueIndex;size:64;not null"`
	LicenseID uint      `gorm:"index;not null"`
	LastSeen  time.Time `gorm:"not null"`
	CreatedAt time.Time
}

// Store is the persistence boundary of the issuer.
type Store interface {
	// LicenseByKey returns the license record for key, or
	// apperrors.ErrLicenseInvalid when no such license exists.
	LicenseByKey(ctx context.Context, key string) (*License, error)

	// BindDevice binds deviceID to the license, or touches last_seen when the
	// binding already exists. It returns apperrors.ErrDeviceConflict when the
	// device is bound to a different license and
	// apperrors.ErrDeviceQuotaExceeded when the license has no free seats.
	// The created flag reports whether a new binding row was written.
	// On any error the binding state is left unchanged.
	BindDevice(ctx context.Context, licenseID uint, maxDevices int, deviceID string, now time.Time) (binding *DeviceBinding, created bool, err error)

	// CreateLicense inserts a new license record. Used by seeding and tests;
	// regular operation never writes licenses.
	CreateLicense(ctx context.Context, lic *License) error

	// Close releases the underlying resources.
	Close() error
}
