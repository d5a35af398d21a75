package config

import "fmt"

// ErrEnvFile reports an unreadable .env file
func ErrEnvFile(err error) error {
	return fmt.Errorf("config: load .env failed: %w", err)
}

// ErrReadFile reports an unreadable config file
func ErrReadFile(path string, err error) error {
	return fmt.Errorf("config: read config file %q failed: %w", path, err)
}

// ErrDecode reports values that do not fit the configuration types
func ErrDecode(err error) error {
	return fmt.Errorf("config: decode failed: %w", err)
}
