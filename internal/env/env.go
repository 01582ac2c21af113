package env

import (
	"os"
	"time"
)

// Get retrieves an environment variable
func Get(key string) (string, bool) {
	value := os.Getenv(key)
	if value == "" {
		return "", false
	}
	return value, true
}

// GetOrDefault retrieves an environment variable with a default value
func GetOrDefault(key, defaultValue string) string {
	if value, ok := Get(key); ok {
		return value
	}
	return defaultValue
}

// GetDuration parses an environment variable as a time.Duration. Unset or
// unparsable values yield defaultValue; ok reports whether the variable was
// set and parsed.
func GetDuration(key string, defaultValue time.Duration) (d time.Duration, ok bool) {
	value, set := Get(key)
	if !set {
		return defaultValue, false
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue, false
	}
	return parsed, true
}
