// Crash test orchestrator for poolkv.
//
// This tool repeatedly runs a write workload in a child process, kills it
// at a random moment, then reopens the pool and checks that every
// acknowledged generation survived and no commit was torn.
//
// Usage: go run ./cmd/crashtest [flags]
//
// Built with -tags crashtest, the child can instead be stopped at a named
// kill point with -kill-point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aalhour/poolkv/db"
	"github.com/aalhour/poolkv/internal/logging"
	"github.com/aalhour/poolkv/internal/testutil"
)

var (
	engine        = flag.String("engine", "stree", "Engine under test (stree, cmap, lsm)")
	duration      = flag.Duration("duration", 2*time.Minute, "Total test duration")
	crashInterval = flag.Duration("interval", 2*time.Second, "Average time between crashes")
	numCycles     = flag.Int("cycles", 0, "Number of crash cycles (0 = unlimited until duration)")
	dbPath        = flag.String("db", "", "Working directory (default: temp directory)")
	keepDB        = flag.Bool("keep", false, "Keep the working directory after the test")
	verbose       = flag.Bool("v", false, "Verbose output")
	seed          = flag.Uint64("seed", 0, "Random seed (0 for time-based)")
	numKeys       = flag.Int("keys", 200, "Keys rewritten per generation")
	defragEvery   = flag.Int("defrag", 10, "Defrag every n generations (0 = never)")
	killPoint     = flag.String("kill-point", "", "Stop the child at this kill point instead of a timer (crashtest builds)")

	// Child mode, set by the orchestrator.
	child  = flag.Bool("child", false, "Run the workload (internal)")
	rounds = flag.Int("rounds", 0, "Generations the child writes before exiting (0 = forever)")
)

// Stats tracks crash test statistics
type Stats struct {
	cycles           int
	successfulCrash  int
	successfulVerify int
	failedVerify     int
	errors           int
	startTime        time.Time
}

func main() {
	flag.Parse()

	if *child {
		if err := newWorkload(*dbPath).run(*rounds); err != nil {
			fatal("workload: %v", err)
		}
		return
	}

	if !db.IsPersistent(*engine) {
		fatal("engine %q does not keep records across a crash", *engine)
	}
	if *seed == 0 {
		*seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(*seed, *seed))

	printBanner()

	testDir := setupDBPath()
	defer cleanupDBPath(testDir)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stats := &Stats{startTime: time.Now()}
	err := runCrashTestCycles(ctx, testDir, rng, stats)

	printStats(stats)

	if err != nil || stats.failedVerify > 0 {
		if err == nil {
			err = fmt.Errorf("verification failures: %d", stats.failedVerify)
		}
		fmt.Printf("\nCRASH TEST FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("CRASH TEST PASSED")
}

func newWorkload(dir string) *workload {
	logger := logging.Discard
	if *verbose {
		logger = logging.NewDefaultLogger(logging.LevelInfo)
	}
	return &workload{
		engine:  *engine,
		dir:     filepath.Join(dir, "pool"),
		state:   dir,
		keys:    *numKeys,
		defrag:  *defragEvery,
		logger:  logger,
		verbose: *verbose,
	}
}

func printBanner() {
	fmt.Println("poolkv crash test")
	fmt.Printf("  engine=%s duration=%s interval=%s seed=%d keys=%d\n",
		*engine, *duration, *crashInterval, *seed, *numKeys)
	fmt.Printf("  repro: -engine=%s -seed=%d -duration=%s -interval=%s\n\n",
		*engine, *seed, *duration, *crashInterval)
}

func setupDBPath() string {
	if *dbPath == "" {
		dir, err := os.MkdirTemp("", "poolkv-crashtest-*")
		if err != nil {
			fatal("Failed to create temp dir: %v", err)
		}
		return dir
	}
	os.RemoveAll(*dbPath)
	if err := os.MkdirAll(*dbPath, 0o755); err != nil {
		fatal("Failed to create working dir: %v", err)
	}
	return *dbPath
}

func cleanupDBPath(testDir string) {
	if *keepDB {
		fmt.Printf("Working directory kept at: %s\n", testDir)
		return
	}
	os.RemoveAll(testDir)
}

func runCrashTestCycles(ctx context.Context, testDir string, rng *rand.Rand, stats *Stats) error {
	deadline := time.Now().Add(*duration)
	w := newWorkload(testDir)

	for ctx.Err() == nil {
		if time.Now().After(deadline) {
			fmt.Println("\nDuration limit reached")
			break
		}
		if *numCycles > 0 && stats.cycles >= *numCycles {
			fmt.Printf("\nCompleted %d cycles\n", *numCycles)
			break
		}

		stats.cycles++
		crashAt := calculateCrashInterval(rng)
		fmt.Printf("Cycle %d | elapsed %s | crash after %s\n",
			stats.cycles, time.Since(stats.startTime).Round(time.Second), crashAt.Round(time.Millisecond))

		if err := runChildAndCrash(ctx, testDir, crashAt); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			stats.errors++
			fmt.Printf("  workload error: %v\n", err)
			continue
		}
		stats.successfulCrash++

		gen, err := verifyPool(w)
		if err != nil {
			stats.failedVerify++
			fmt.Printf("  verification failed: %v\n", err)
			return err
		}
		stats.successfulVerify++
		fmt.Printf("  verified generation %d\n", gen)
	}
	return nil
}

func calculateCrashInterval(rng *rand.Rand) time.Duration {
	// Random factor between 0.2 and 2.0 around the target.
	factor := 0.2 + rng.Float64()*1.8
	return time.Duration(float64(*crashInterval) * factor)
}

func childArgs(testDir string, rounds int) []string {
	return []string{
		"-child",
		"-engine", *engine,
		"-db", testDir,
		"-keys", fmt.Sprint(*numKeys),
		"-defrag", fmt.Sprint(*defragEvery),
		"-rounds", fmt.Sprint(rounds),
		fmt.Sprintf("-v=%v", *verbose),
	}
}

func runChildAndCrash(ctx context.Context, testDir string, crashAfter time.Duration) error {
	cmd := exec.CommandContext(ctx, os.Args[0], childArgs(testDir, 0)...)
	if *killPoint != "" {
		cmd.Env = append(os.Environ(), testutil.KillPointEnvVar+"="+*killPoint)
	}
	if *verbose {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start workload: %w", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		// Reached the kill point, or failed on its own.
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			return fmt.Errorf("workload exited early: %w", err)
		}
		return err
	case <-time.After(crashAfter):
		if err := cmd.Process.Signal(syscall.SIGKILL); err != nil {
			return fmt.Errorf("kill workload: %w", err)
		}
		<-done
		return nil
	case <-ctx.Done():
		<-done
		return ctx.Err()
	}
}

func verifyPool(w *workload) (uint64, error) {
	e, err := w.open()
	if err != nil {
		return 0, fmt.Errorf("reopen: %w", err)
	}
	defer e.Close()
	gen, err := w.verify(e)
	if err != nil {
		return 0, err
	}
	if _, err := e.Stats(); err != nil {
		return 0, err
	}
	return gen, nil
}

func printStats(stats *Stats) {
	elapsed := time.Since(stats.startTime)
	fmt.Println()
	fmt.Println("Crash test summary")
	fmt.Printf("  cycles:                   %d\n", stats.cycles)
	fmt.Printf("  successful crashes:       %d\n", stats.successfulCrash)
	fmt.Printf("  successful verifications: %d\n", stats.successfulVerify)
	fmt.Printf("  failed verifications:     %d\n", stats.failedVerify)
	fmt.Printf("  errors:                   %d\n", stats.errors)
	fmt.Printf("  elapsed:                  %s\n", elapsed.Round(time.Second))
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FATAL: "+format+"\n", args...)
	os.Exit(1)
}
