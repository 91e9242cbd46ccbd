package shared

import (
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

// Characters that are illegal in a single path segment on at least one
// supported filesystem.
const invalidHashChars = `<>:"/\|?*`

// Windows reserved device names; a hash equal to one of these would be
// unusable as a directory name.
var reservedNames = map[string]struct{}{
	"con": {}, "prn": {}, "aux": {}, "nul": {},
	"com1": {}, "com2": {}, "com3": {}, "com4": {}, "com5": {},
	"com6": {}, "com7": {}, "com8": {}, "com9": {},
	"lpt1": {}, "lpt2": {}, "lpt3": {}, "lpt4": {}, "lpt5": {},
	"lpt6": {}, "lpt7": {}, "lpt8": {}, "lpt9": {},
}

// ValidateHash rejects hashes that cannot safely be used as a single
// filesystem path segment: separators, traversal, control bytes and
// reserved names.
func ValidateHash(hash string) error {
	if hash == "" {
		return fmt.Errorf("hash is empty: %w", ErrInvalidHash)
	}
	if len(hash) > 255 {
		return fmt.Errorf("hash exceeds 255 bytes: %w", ErrInvalidHash)
	}
	if hash == "." || hash == ".." {
		return fmt.Errorf("hash %q is a traversal segment: %w", hash, ErrInvalidHash)
	}
	if strings.ContainsAny(hash, invalidHashChars) {
		return fmt.Errorf("hash %q contains illegal characters: %w", hash, ErrInvalidHash)
	}
	for _, r := range hash {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("hash contains control bytes: %w", ErrInvalidHash)
		}
	}
	if _, ok := reservedNames[strings.ToLower(hash)]; ok {
		return fmt.Errorf("hash %q is a reserved name: %w", hash, ErrInvalidHash)
	}
	return nil
}

// FileExists checks if a regular file exists at the given path.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// IdToString normalizes a JSON track identifier, which the endpoint
// accepts as either a string or a number.
func IdToString(id interface{}) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

// RetryTransient retries fn with exponential backoff and jitter, but
// only while the error is transient (upstream/transport failures).
// With maxAttempts <= 1 it executes fn exactly once, which is the
// coordinator's default policy.
func RetryTransient(maxAttempts int, initialDelay time.Duration, fn func() error) error {
	if maxAttempts <= 1 {
		return fn()
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts-1 {
			break
		}

		delay := initialDelay * time.Duration(1<<uint(attempt))
		jitter := time.Duration(rand.Int63n(int64(delay/4) + 1))
		time.Sleep(delay + jitter)
	}
	return fmt.Errorf("failed after %d attempts: %w", maxAttempts, lastErr)
}

func IsTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}
