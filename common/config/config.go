package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rainbow-me/service-runtime/common/env"
	"github.com/rainbow-me/service-runtime/common/logger"
)

const (
	fileFormat     = ".yaml"        // File format of the config files
	relativePath   = "./cmd/config" // Default relative path for config files (base path)
	binaryPath     = "./config"     // Path for binary build config (base path)
	binaryDir      = "target"       // Directory name for the binary target
	binaryInDocker = "app"          // Directory name for Docker deployment
	envVarPrefix   = "env://"       // Prefix for environment variables
)

// ServiceConfig is the configuration every service host reads at startup.
type ServiceConfig struct {
	Name           string        `mapstructure:"name"`
	GRPCAddress    string        `mapstructure:"grpcAddress"`
	AdminAddress   string        `mapstructure:"adminAddress"`
	RequestTimeout time.Duration `mapstructure:"requestTimeout"`
	Auth           AuthConfig    `mapstructure:"auth"`
	// Destinations names the downstream services whose <NAME>_HOST/_PORT/_TIMEOUT/_RETRIES
	// variables should be read.
	Destinations []string `mapstructure:"destinations"`
}

// AuthConfig holds the credential verification settings.
type AuthConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
	// Users lists the subjects accepted by the built-in identity store. Empty accepts any
	// subject with a valid credential.
	Users []string `mapstructure:"users"`
}

// YamlReadConfig holds the configuration paths (relative and absolute).
type YamlReadConfig struct {
	RelativePath string // Path relative to the current directory
	AbsolutePath string // Absolute path if provided
	DynamicDir   string // Optional dynamic directory
	Viper        *viper.Viper
}

// ReadConfigOption is a function signature used to set configuration options.
type ReadConfigOption func(*YamlReadConfig)

// WithRelativePath sets a relative path for the config file.
func WithRelativePath(path string) ReadConfigOption {
	return func(config *YamlReadConfig) {
		config.RelativePath = path
	}
}

// WithAbsolutePath sets an absolute path for the config file.
func WithAbsolutePath(path string) ReadConfigOption {
	return func(config *YamlReadConfig) {
		config.AbsolutePath = path
	}
}

// WithDynamicDir allows setting a dynamic subdirectory for the configuration path.
func WithDynamicDir(dynamicDir string) ReadConfigOption {
	return func(config *YamlReadConfig) {
		config.DynamicDir = dynamicDir
	}
}

// WithViper reads into the given viper instance instead of a fresh one, so callers
// can keep querying it (e.g. for destination variables) after loading.
func WithViper(v *viper.Viper) ReadConfigOption {
	return func(config *YamlReadConfig) {
		config.Viper = v
	}
}

// LoadConfig loads <dir>/<ENVIRONMENT>.yaml into conf. Environment variables override file
// values ("a.b" is read from A_B) and string values of the form env://NAME are replaced by
// the NAME variable.
func LoadConfig(conf any, log *logger.Logger, options ...ReadConfigOption) error {
	config := &YamlReadConfig{RelativePath: relativePath}
	for _, option := range options {
		option(config)
	}
	if config.Viper == nil {
		config.Viper = viper.New()
	}

	currentDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current working directory: %w", err)
	}

	// Adjust config path if running from binary target or Docker container
	if strings.Contains(currentDir, binaryDir) || strings.Contains(currentDir, binaryInDocker) {
		config.RelativePath = binaryPath
	}

	pathToConfigDir := config.RelativePath
	if config.AbsolutePath != "" {
		pathToConfigDir = config.AbsolutePath
	}
	if config.DynamicDir != "" {
		pathToConfigDir = filepath.Join(pathToConfigDir, config.DynamicDir)
	}

	currentEnv, err := env.GetApplicationEnv()
	if err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}

	filePath := filepath.Join(pathToConfigDir, currentEnv.String()+fileFormat)
	log.Info("Reading config file", logger.String("path", filePath))

	v := config.Viper
	v.SetConfigFile(filePath)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read configuration file: %w", err)
	}

	for _, key := range v.AllKeys() {
		resolveEnvPlaceholder(v, key, log)
	}

	if err := v.Unmarshal(conf); err != nil {
		return fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	return nil
}

func resolveEnvPlaceholder(v *viper.Viper, key string, log *logger.Logger) {
	str, ok := v.Get(key).(string)
	if !ok || !strings.HasPrefix(str, envVarPrefix) {
		return
	}

	envVar := str[len(envVarPrefix):]
	envValue, exists := os.LookupEnv(envVar)
	if !exists {
		log.Warn("environment variable not found", logger.String("variableName", envVar))
	}
	v.Set(key, envValue)
}
