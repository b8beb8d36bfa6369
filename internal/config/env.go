package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// envPrefix prefixes every environment override, e.g. KARTKA_SEARCH_PASSWORD.
const envPrefix = "KARTKA_"

func getEnv(key string) (string, bool) {
	value, ok := os.LookupEnv(envPrefix + key)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// applyEnvOverrides lets secrets and host-specific values live outside the config file.
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"LAYOUT_DATA_DIR":        &cfg.Layout.DataDir,
		"LAYOUT_SCAN_DIR":        &cfg.Layout.ScanDir,
		"LAYOUT_CREDENTIALS":     &cfg.Layout.Credentials,
		"SEARCH_BACKEND":         &cfg.Search.Backend,
		"SEARCH_COLLECTION_NAME": &cfg.Search.CollectionName,
		"SEARCH_BUCKET_NAME":     &cfg.Search.BucketName,
		"SEARCH_HOST":            &cfg.Search.Host,
		"SEARCH_PASSWORD":        &cfg.Search.Password,
		"SEARCH_USERNAME":        &cfg.Search.Username,
		"STORE_ROOT_FOLDER":      &cfg.Store.RootFolder,
		"OCR_BACKEND":            &cfg.OCR.Backend,
		"OCR_PROJECT_ID":         &cfg.OCR.ProjectID,
		"OCR_LOCATION":           &cfg.OCR.Location,
		"OCR_PROCESSOR_ID":       &cfg.OCR.ProcessorID,
		"LOG_LEVEL":              &cfg.Logging.Level,
		"LOG_FORMAT":             &cfg.Logging.Format,
		"LOG_OUTPUT":             &cfg.Logging.Output,
	}
	for key, dst := range strs {
		if value, ok := getEnv(key); ok {
			*dst = value
		}
	}

	ints := map[string]*int{
		"SEARCH_PORT":     &cfg.Search.Port,
		"OCR_WORKERS":     &cfg.OCR.Workers,
		"HYDRATE_WORKERS": &cfg.Hydrate.Workers,
		"RETRY_ATTEMPTS":  &cfg.Retry.Attempts,
	}
	for key, dst := range ints {
		value, ok := getEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return envError(key, value, "an integer")
		}
		*dst = n
	}

	if value, ok := getEnv("HYDRATE_DPI"); ok {
		dpi, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return envError("HYDRATE_DPI", value, "a number")
		}
		cfg.Hydrate.DPI = dpi
	}
	if value, ok := getEnv("RETRY_MAX"); ok {
		d, err := time.ParseDuration(value)
		if err != nil {
			return envError("RETRY_MAX", value, "a duration")
		}
		cfg.Retry.Max = d
	}
	if value, ok := getEnv("SEARCH_ADDRESSES"); ok {
		cfg.Search.Addresses = strings.Split(value, ",")
	}
	return nil
}

func envError(key, value, want string) error {
	section, field, _ := strings.Cut(strings.ToLower(key), "_")
	return &ConfigurationError{
		Section: section,
		Key:     field,
		Reason:  fmt.Sprintf("from %s%s must be %s, got %q", envPrefix, key, want, value),
	}
}
