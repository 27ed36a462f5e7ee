// Command popwatch gates the popup-watcher tool behind license verification.
// It verifies the current device against the license server (or a cached
// credential when offline) and exits non-zero when the license is denied.
//
// Subcommands:
//
//	popwatch             run the license gate (default)
//	popwatch fingerprint print the device fingerprint and its sources
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"popwatch/internal/config"
	"popwatch/internal/infrastructure"
	"popwatch/internal/license"
	"popwatch/internal/security"
)

const clientVersion = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "popwatch: failed to load config: %v\n", err)
		return 1
	}
	if err := cfg.EnsureDataDir(); err != nil {
		fmt.Fprintf(os.Stderr, "popwatch: failed to create data dir: %v\n", err)
		return 1
	}

	// Keep the terminal usable for prompts; logs go to the data dir.
	if cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "file"
		cfg.Logging.FilePath = cfg.Paths.DataDir + "/popwatch.log"
	}
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "popwatch: failed to initialize logger: %v\n", err)
		return 1
	}
	defer infrastructure.CloseLogFile()

	fp := security.NewFingerprintManager(cfg.DeviceIDPath(), logger)

	if len(os.Args) > 1 && os.Args[1] == "fingerprint" {
		return printFingerprint(fp)
	}

	if err := cfg.RequireSecret(); err != nil {
		fmt.Fprintf(os.Stderr, "popwatch: %v\n", err)
		return 1
	}

	mgr, err := license.NewManager(license.ManagerOptions{
		KeyPath:         cfg.LicenseKeyPath(),
		CachePath:       cfg.TokenCachePath(),
		ServerURL:       cfg.Client.ServerURL,
		Timeout:         cfg.Client.Timeout,
		RetryAttempts:   cfg.Client.RetryAttempts,
		RecheckInterval: cfg.License.RecheckInterval,
		OfflineGrace:    cfg.License.OfflineGrace(),
		ClientVersion:   clientVersion,
	}, security.NewSigner([]byte(cfg.License.Secret)), fp, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "popwatch: failed to initialize license manager: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stdin := bufio.NewReader(os.Stdin)
	for attempt := 0; attempt < cfg.Client.PromptAttempts; attempt++ {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "popwatch: interrupted")
			return 130
		}

		state, reason := mgr.EnsureValid(ctx)
		switch {
		case state.Valid():
			logger.Info("license valid, starting watcher",
				slog.String("action", "gate_passed"),
				slog.String("state", state.String()),
			)
			fmt.Println("License verified. Starting popup watcher...")
			// The watcher itself runs from here; the gate's job is done.
			return 0

		case state == license.StateNeedKey:
			fmt.Println("No license key found for this installation.")

		default:
			fmt.Printf("License verification failed: %s\n", reason)
		}

		if attempt == cfg.Client.PromptAttempts-1 {
			break
		}
		key, ok := promptKey(ctx, stdin)
		if !ok {
			fmt.Fprintln(os.Stderr, "popwatch: interrupted")
			return 130
		}
		if err := mgr.SetLicenseKey(key); err != nil {
			fmt.Fprintf(os.Stderr, "popwatch: failed to save license key: %v\n", err)
			return 1
		}
	}

	fmt.Fprintln(os.Stderr, "popwatch: no valid license, exiting")
	return 1
}

// promptKey reads a license key from the terminal, honoring interrupts.
func promptKey(ctx context.Context, stdin *bufio.Reader) (string, bool) {
	fmt.Print("Enter your license key: ")

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := stdin.ReadString('\n')
		ch <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		return "", false
	case res := <-ch:
		if res.err != nil {
			return "", false
		}
		return strings.TrimSpace(res.line), true
	}
}

func printFingerprint(fp *security.FingerprintManager) int {
	fingerprint, err := fp.Fingerprint()
	if err != nil {
		fmt.Fprintf(os.Stderr, "popwatch: failed to compute fingerprint: %v\n", err)
		return 1
	}
	fmt.Printf("Fingerprint: %s\n", fingerprint)

	components := fp.Components()
	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-12s %s\n", name, components[name])
	}
	return 0
}
