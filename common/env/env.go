package env

import (
	"fmt"
	"os"
	"slices"
	"strings"
)

const ApplicationEnvKey = "ENVIRONMENT"

// Environment is the deployment stage a service runs in.
type Environment string

const (
	EnvironmentLocal       Environment = "local"
	EnvironmentLocalDocker Environment = "local-docker"
	EnvironmentDevelopment Environment = "development"
	EnvironmentStaging     Environment = "staging"
	EnvironmentProduction  Environment = "production"
)

func (e Environment) String() string { return string(e) }

// IsLocal reports whether the environment runs on a developer machine.
func (e Environment) IsLocal() bool {
	return e == EnvironmentLocal || e == EnvironmentLocalDocker
}

func supported() []string {
	return []string{
		EnvironmentLocal.String(),
		EnvironmentLocalDocker.String(),
		EnvironmentDevelopment.String(),
		EnvironmentStaging.String(),
		EnvironmentProduction.String(),
	}
}

func IsEnvironmentValid(environment string) error {
	if slices.Contains(supported(), environment) {
		return nil
	}
	return fmt.Errorf("invalid environment: %s must be set to one of %s",
		ApplicationEnvKey, strings.Join(supported(), ", "))
}

func FromString(environment string) (Environment, error) {
	if err := IsEnvironmentValid(environment); err != nil {
		return "", err
	}
	return Environment(environment), nil
}

// GetApplicationEnv returns the environment from ENVIRONMENT if it is set and valid.
func GetApplicationEnv() (Environment, error) {
	return FromString(os.Getenv(ApplicationEnvKey))
}

// GetApplicationEnvOrDefault returns the configured environment, or defaultEnv when unset or invalid.
func GetApplicationEnvOrDefault(defaultEnv Environment) Environment {
	e, err := GetApplicationEnv()
	if err != nil {
		return defaultEnv
	}
	return e
}

// GetApplicationEnvSafe is GetApplicationEnvOrDefault(EnvironmentLocal).
func GetApplicationEnvSafe() Environment {
	return GetApplicationEnvOrDefault(EnvironmentLocal)
}

func IsLocalApplicationEnv() bool {
	return GetApplicationEnvSafe().IsLocal()
}
