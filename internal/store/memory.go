package store

import (
	"context"
	"sync"
	"time"

	apperrors "popwatch/internal/errors"
)

// MemoryStore is an in-process Store with the same binding semantics as the
// Postgres implementation. It backs tests and DSN-less local development;
// it is not durable.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   uint
	licenses map[string]*License       // by license key
	byID     map[uint]*License         // by license id
	bindings map[string]*DeviceBinding // by device id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:   1,
		licenses: make(map[string]*License),
		byID:     make(map[uint]*License),
		bindings: make(map[string]*DeviceBinding),
	}
}

// LicenseByKey implements Store.
func (s *MemoryStore) LicenseByKey(ctx context.Context, key string) (*License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lic, ok := s.licenses[key]
	if !ok {
		return nil, apperrors.ErrLicenseInvalid
	}
	copied := *lic
	return &copied, nil
}

// BindDevice implements Store. The single mutex provides the atomicity the
// Postgres implementation gets from its transaction and row lock.
func (s *MemoryStore) BindDevice(ctx context.Context, licenseID uint, maxDevices int, deviceID string, now time.Time) (*DeviceBinding, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.bindings[deviceID]; ok {
		if existing.LicenseID != licenseID {
			return nil, false, apperrors.ErrDeviceConflict
		}
		existing.LastSeen = now
		copied := *existing
		return &copied, false, nil
	}

	var count int
	for _, b := range s.bindings {
		if b.LicenseID == licenseID {
			count++
		}
	}
	if count >= maxDevices {
		return nil, false, apperrors.ErrDeviceQuotaExceeded
	}

	binding := &DeviceBinding{
		ID:        s.nextID,
		DeviceID:  deviceID,
		LicenseID: licenseID,
		LastSeen:  now,
		CreatedAt: now,
	}
	s.nextID++
	s.bindings[deviceID] = binding
	copied := *binding
	return &copied, true, nil
}

// CreateLicense implements Store.
func (s *MemoryStore) CreateLicense(ctx context.Context, lic *License) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lic.ID = s.nextID
	s.nextID++
	if lic.CreatedAt.IsZero() {
		lic.CreatedAt = time.Now()
	}
	copied := *lic
	s.licenses[lic.LicenseKey] = &copied
	s.byID[lic.ID] = &copied
	return nil
}

// BindingByDevice returns the current binding for a device, for tests.
func (s *MemoryStore) BindingByDevice(deviceID string) (*DeviceBinding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bindings[deviceID]
	if !ok {
		return nil, false
	}
	copied := *b
	return &copied, true
}

// BindingCount returns the number of bindings for a license, for tests.
func (s *MemoryStore) BindingCount(licenseID uint) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	for _, b := range s.bindings {
		if b.LicenseID == licenseID {
			count++
		}
	}
	return count
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
