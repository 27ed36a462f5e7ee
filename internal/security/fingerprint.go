package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// FingerprintManager derives a stable per-machine identifier and persists it
// so repeated calls within one install always agree, regardless of any
// drift in the underlying identifier sources.
type FingerprintManager struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	cached string
}

// NewFingerprintManager creates a fingerprint manager persisting to path.
func NewFingerprintManager(path string, logger *slog.Logger) *FingerprintManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &FingerprintManager{path: path, logger: logger}
}

// Fingerprint returns the device fingerprint: the persisted value when one
// exists, otherwise a fresh computation which is then persisted. Source
// collection never fails the call; at worst a locally fixed placeholder is
// hashed and persisted.
func (fm *FingerprintManager) Fingerprint() (string, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	if fm.cached != "" {
		return fm.cached, nil
	}

	if data, err := os.ReadFile(fm.path); err == nil {
		stored := strings.TrimSpace(string(data))
		if isHexDigest(stored) {
			fm.cached = stored
			return stored, nil
		}
		fm.logger.Warn("ignoring corrupt device id file",
			slog.String("path", fm.path),
		)
	}

	fp := computeFingerprint(fm.collectSources())
	if err := fm.persist(fp); err != nil {
		// Not fatal: the fingerprint is still usable this run, it just
		// depends on source stability until a later persist succeeds.
		fm.logger.Warn("failed to persist device fingerprint",
			slog.String("path", fm.path),
			slog.String("error", err.Error()),
		)
	}
	fm.cached = fp
	return fp, nil
}

// Components returns the identifier sources that were available on this
// machine, for diagnostics.
func (fm *FingerprintManager) Components() map[string]string {
	components := make(map[string]string)
	if mac, err := macAddress(); err == nil {
		components["mac_address"] = mac
	}
	if hostname, err := hostname(); err == nil {
		components["hostname"] = hostname
	}
	if cpu, err := cpuID(); err == nil {
		components["cpu_id"] = cpu
	}
	return components
}

// collectSources gathers available identifier strings. A failing source is
// silently omitted.
func (fm *FingerprintManager) collectSources() []string {
	var parts []string
	if mac, err := macAddress(); err == nil {
		parts = append(parts, mac)
	} else {
		fm.logger.Debug("mac address unavailable", slog.String("error", err.Error()))
	}
	if host, err := hostname(); err == nil {
		parts = append(parts, host)
	} else {
		fm.logger.Debug("hostname unavailable", slog.String("error", err.Error()))
	}
	if cpu, err := cpuID(); err == nil {
		parts = append(parts, cpu)
	}
	if len(parts) == 0 {
		// Non-stable placeholder; persistence makes it fixed for this install.
		fm.logger.Warn("no device identifier sources available, using placeholder")
		parts = append(parts, uuid.NewString())
	}
	return parts
}

func (fm *FingerprintManager) persist(fp string) error {
	if err := os.MkdirAll(filepath.Dir(fm.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(fm.path, []byte(fp+"\n"), 0o600)
}

// computeFingerprint hashes the sorted, pipe-joined identifier strings.
func computeFingerprint(parts []string) string {
	sorted := make([]string, len(parts))
	copy(sorted, parts)
	sort.Strings(sorted)

	sum := sha256.Sum256([]byte(strings.Join(sorted, "|")))
	return hex.EncodeToString(sum[:])
}

func isHexDigest(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// macAddress returns the hardware address of the first up, non-loopback
// interface, falling back to any interface with a MAC.
func macAddress() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to list network interfaces: %w", err)
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}
	for _, iface := range interfaces {
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}
	return "", fmt.Errorf("no interface with a hardware address")
}

func hostname() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return "", fmt.Errorf("hostname is empty")
	}
	return host, nil
}

// cpuID returns a normalized CPU identifier where the platform exposes one.
func cpuID() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if procID := os.Getenv("PROCESSOR_IDENTIFIER"); procID != "" {
			return hashComponent(procID), nil
		}
		return "", fmt.Errorf("PROCESSOR_IDENTIFIER not set")
	case "linux":
		data, err := os.ReadFile("/proc/cpuinfo")
		if err != nil {
			return "", fmt.Errorf("failed to read cpuinfo: %w", err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "model name") {
				return hashComponent(line), nil
			}
		}
		return "", fmt.Errorf("no model name in cpuinfo")
	default:
		return hashComponent(runtime.GOOS + "-" + runtime.GOARCH), nil
	}
}

func hashComponent(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:8])
}
