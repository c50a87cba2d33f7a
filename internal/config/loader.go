// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone so day boundaries in imagery time ranges agree
//     across hosts.
//  2. Load .env file via godotenv (local only, non-fatal if absent).
//  3. Outside local, resolve *_SSM_PARAM bindings through the SecretProvider
//     and inject the values into the process environment.
//  4. Use envconfig to process struct tags and populate the Config struct.
//  5. Populate BuildInfo from linker-injected variables.
//  6. Validate the struct using go-playground/validator.
//  7. Resolve BAND_MAPS_JSON into sensor profiles.
package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"fieldwatch/internal/imagery"
)

// ConfigError is a diagnostic error type returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// localEnv is the APP_ENV value that enables .env loading.
const localEnv = "local"

// ssmParamSuffix marks an environment variable whose value is the SSM path of
// the secret named by the rest of the key: JWT_SECRET_SSM_PARAM=/prod/fieldwatch/jwt
// fills JWT_SECRET.
const ssmParamSuffix = "_SSM_PARAM"

// ssmResolveTimeout bounds the single batch lookup made at startup.
const ssmResolveTimeout = 30 * time.Second

// envLookup matches os.LookupEnv and allows injection for testing.
type envLookup func(key string) (string, bool)

// loaderDeps holds the injectable dependencies for the loader, enabling
// testing without touching the working directory.
type loaderDeps struct {
	lookupEnv  envLookup
	setEnv     func(key, value string) error
	environ    func() []string
	loadDotenv func(filenames ...string) error
}

// defaultDeps returns the standard OS-backed dependencies.
func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv:  os.LookupEnv,
		setEnv:     os.Setenv,
		environ:    os.Environ,
		loadDotenv: godotenv.Load,
	}
}

// LoadConfig loads and validates the configuration from the environment.
// The provider is only consulted outside local development, and only when
// at least one *_SSM_PARAM binding needs resolving; it may be nil when the
// deployment injects every secret directly.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	// godotenv never overrides variables that are already set. Outside local
	// development secrets come from the environment or their SSM bindings.
	appEnv, ok := deps.lookupEnv("APP_ENV")
	if !ok || appEnv == localEnv {
		_ = deps.loadDotenv()
	} else if err := resolveSSMParams(provider, deps); err != nil {
		return nil, err
	}

	// The empty prefix "" means envconfig uses the exact tag values.
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	profiles, err := imagery.ParseSensorProfiles(cfg.Imagery.BandMapsJSON)
	if err != nil {
		return nil, &ConfigError{
			Type:    ErrBandMaps,
			Message: "BAND_MAPS_JSON is not a valid set of sensor profiles",
			Err:     err,
		}
	}
	if _, err := profiles.Resolve(cfg.Imagery.DefaultProfile); err != nil {
		return nil, &ConfigError{
			Type:    ErrBandMaps,
			Message: fmt.Sprintf("default sensor profile %q is not defined", cfg.Imagery.DefaultProfile),
			Err:     err,
		}
	}
	cfg.Imagery.Profiles = profiles

	return &cfg, nil
}

// ssmBindings maps each target variable to its parameter path. Targets that
// are already set win over their binding, so an operator can override a
// single secret without touching SSM.
func ssmBindings(deps loaderDeps) map[string]string {
	bindings := make(map[string]string)
	for _, kv := range deps.environ() {
		key, path, found := strings.Cut(kv, "=")
		if !found || !strings.HasSuffix(key, ssmParamSuffix) || path == "" {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if target == "" {
			continue
		}
		if v, set := deps.lookupEnv(target); set && v != "" {
			continue
		}
		bindings[target] = path
	}
	return bindings
}

// resolveSSMParams fetches every pending binding in one provider call and
// exports the values so envconfig sees them.
func resolveSSMParams(provider SecretProvider, deps loaderDeps) error {
	bindings := ssmBindings(deps)
	if len(bindings) == 0 {
		return nil
	}

	targets := make([]string, 0, len(bindings))
	for target := range bindings {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	if provider == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SecretProvider is required for non-local environments (need to resolve: %s)", strings.Join(targets, ", ")),
		}
	}

	paths := make([]string, 0, len(targets))
	for _, target := range targets {
		paths = append(paths, bindings[target])
	}

	ctx, cancel := context.WithTimeout(context.Background(), ssmResolveTimeout)
	defer cancel()

	values, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "failed to fetch secrets from SSM",
			Err:     err,
		}
	}

	var missing []string
	for _, target := range targets {
		value, found := values[bindings[target]]
		if !found {
			missing = append(missing, target)
			continue
		}
		if err := deps.setEnv(target, value); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: fmt.Sprintf("failed to export %s", target),
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SSM parameters not found for: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}
