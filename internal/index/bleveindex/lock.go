package bleveindex

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	lockTimeout   = 5 * time.Second // Max time to wait for lock
	lockRetryWait = 500 * time.Millisecond
	lockWriteWait = time.Second // an empty lock file younger than this is still being written
)

// isProcessRunning is implemented in platform-specific files:
// - lock_unix.go for Unix/Linux/macOS
// - lock_windows.go for Windows

// cleanStaleLock removes the lock file if the owning process is dead
func cleanStaleLock(lockPath string) error {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No lock file, nothing to clean
		}
		return fmt.Errorf("failed to read lock file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		if len(data) == 0 {
			if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) < lockWriteWait {
				return fmt.Errorf("lock file is being written")
			}
		}
		log.Printf("Warning: Corrupted lock file %s (invalid PID), removing...", lockPath)
		return os.Remove(lockPath)
	}

	if isProcessRunning(pid) {
		return fmt.Errorf("lock held by running process %d", pid)
	}

	log.Printf("Stale lock detected (PID %d not running), cleaning...", pid)
	return os.Remove(lockPath)
}

// acquireLock takes the inter-process lock guarding one index directory.
// It waits up to lockTimeout for a live owner to go away.
func acquireLock(lockPath string) error {
	ourPID := os.Getpid()

	if data, err := os.ReadFile(lockPath); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && pid == ourPID {
			return nil
		}
	}

	startTime := time.Now()
	for {
		err := createLockFile(lockPath, ourPID)
		if err == nil {
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create lock file: %w", err)
		}

		if err := cleanStaleLock(lockPath); err != nil {
			elapsed := time.Since(startTime)
			if elapsed >= lockTimeout {
				return fmt.Errorf("timeout waiting for index lock after %v: %w", elapsed.Round(time.Millisecond), err)
			}

			log.Printf("Index locked by another process, waiting... (%v elapsed)", elapsed.Round(100*time.Millisecond))
			time.Sleep(lockRetryWait)
		}
	}
}

// createLockFile creates lockPath exclusively and writes pid into it. It
// fails with an os.IsExist error when another owner got there first.
func createLockFile(lockPath string, pid int) error {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(strconv.Itoa(pid)); err != nil {
		f.Close()
		os.Remove(lockPath)
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	return f.Close()
}

// releaseLock removes the lock file if this process owns it
func releaseLock(lockPath string) error {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read lock file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err == nil && pid != os.Getpid() {
		log.Printf("Warning: Lock file contains different PID (%d vs %d), not removing", pid, os.Getpid())
		return nil
	}

	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}
