package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/engula/file-storage/storage"
	"github.com/joho/godotenv"
)

var ErrMissingEnv = errors.New("environment variable not set")

var dotEnvFile = ".env"

type Config struct {
	GRPCPort int
	Storage  storage.Config
}

// Load reads .env when present, then the process environment.
func Load() (cfg Config, err error) {
	if err = loadDotEnv(dotEnvFile); err != nil {
		return
	}

	var e env
	cfg = Config{
		GRPCPort: e.getInt("GRPC_PORT", 8081),
		Storage: storage.Config{
			Driver:      e.getString("STORAGE_DRIVER", storage.DriverOSS),
			StagingRoot: e.getString("STAGING_ROOT", "./storage/staging"),
			Local: storage.LocalConfig{
				Root:               e.getString("LOCAL_ROOT", "./storage/uploads"),
				BaseURL:            e.getString("LOCAL_BASE_URL", "/uploads"),
				Prefix:             e.getString("LOCAL_PREFIX", ""),
				Layout:             storage.Layout(e.getString("LOCAL_STORAGE_TYPE", string(storage.LayoutFlat))),
				StreamKeyTimestamp: e.getBool("LOCAL_STREAM_KEY_TIMESTAMP", false),
			},
		},
	}
	if cfg.Storage.Driver == storage.DriverOSS {
		secure := e.getBool("OSS_SECURE", true)
		cfg.Storage.OSS = storage.OSSConfig{
			Region:             e.getRequired("OSS_REGION"),
			AccessKeyID:        e.getRequired("OSS_ACCESS_KEY_ID"),
			AccessKeySecret:    e.getRequired("OSS_ACCESS_KEY_SECRET"),
			Bucket:             e.getRequired("OSS_BUCKET"),
			Secure:             &secure,
			Prefix:             e.getString("OSS_PREFIX", ""),
			Layout:             storage.Layout(e.getString("OSS_STORAGE_TYPE", string(storage.LayoutFlat))),
			Endpoint:           e.getString("OSS_ENDPOINT", ""),
			Domain:             e.getString("OSS_DOMAIN", storage.DefaultDomain),
			StreamKeyTimestamp: e.getBool("OSS_STREAM_KEY_TIMESTAMP", false),
			KeepURLScheme:      e.getBool("OSS_KEEP_URL_SCHEME", false),
		}
	}
	err = e.err
	return
}

// loadDotEnv tolerates a missing file but not a malformed one.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// env collects the first lookup failure so Load can read every key in one pass.
type env struct {
	err error
}

func (e *env) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *env) getRequired(key string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		e.fail(fmt.Errorf("%w: %s", ErrMissingEnv, key))
	}
	return value
}

func (e *env) getString(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func (e *env) getInt(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		intValue, err := strconv.Atoi(value)
		if err != nil {
			e.fail(fmt.Errorf("%s: %w", key, err))
			return defaultValue
		}
		return intValue
	}
	return defaultValue
}

func (e *env) getBool(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			e.fail(fmt.Errorf("%s: %w", key, err))
			return defaultValue
		}
		return boolValue
	}
	return defaultValue
}
