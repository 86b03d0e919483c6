// Package feeders provides configuration feeders for reading management
// configuration from YAML, TOML and JSON files, .env files and prefixed
// environment variables.
package feeders

import (
	"errors"
	"fmt"

	"github.com/golobby/config/v3/pkg/feeder"
)

// Feeder errors
var (
	ErrEnvInvalidStructure = errors.New("env: invalid structure")
	ErrEnvEmptyPrefix      = errors.New("env: prefix cannot be empty")
	ErrFieldCannotBeSet    = errors.New("field cannot be set")
)

// JsonFeeder is a feeder that reads JSON files
type JsonFeeder = feeder.Json

// NewJsonFeeder creates a new JsonFeeder that reads from the specified JSON file
func NewJsonFeeder(filePath string) JsonFeeder {
	return JsonFeeder{Path: filePath}
}

// DotEnvFeeder is a feeder that reads .env files into env-tagged fields
type DotEnvFeeder = feeder.DotEnv

// NewDotEnvFeeder creates a new DotEnvFeeder that reads from the specified .env file
func NewDotEnvFeeder(filePath string) DotEnvFeeder {
	return DotEnvFeeder{Path: filePath}
}

func wrapConvertError(envName string, err error) error {
	return fmt.Errorf("env %s: %w", envName, err)
}
