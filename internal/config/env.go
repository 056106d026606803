package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables holding secrets. They are read from the process
// environment after the optional .env file in the data directory is applied.
const (
	EnvDiscordToken  = "DISCORD_TOKEN"
	EnvMongoURI      = "MONGODB_URI"
	EnvMongoDatabase = "MONGODB_DATABASE"
)

// Credentials are the secrets the bot needs at runtime.
type Credentials struct {
	DiscordToken  string
	MongoURI      string
	MongoDatabase string
}

// LoadCredentials applies envFile (if present) to the process environment
// and reads the credential variables. Variables already set in the
// environment take precedence over the file.
func LoadCredentials(envFile string) (Credentials, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Credentials{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return Credentials{
		DiscordToken:  strings.TrimSpace(os.Getenv(EnvDiscordToken)),
		MongoURI:      strings.TrimSpace(os.Getenv(EnvMongoURI)),
		MongoDatabase: strings.TrimSpace(os.Getenv(EnvMongoDatabase)),
	}, nil
}

// Check reports the first credential missing for the given store backend.
func (c Credentials) Check(backend string) error {
	if c.DiscordToken == "" {
		return fmt.Errorf("%s is not set", EnvDiscordToken)
	}
	if backend == "mongo" && c.MongoURI == "" {
		return fmt.Errorf("%s is not set (required by store.backend = \"mongo\")", EnvMongoURI)
	}
	return nil
}

// Database returns the MongoDB database name, preferring the environment.
func (c Credentials) Database(cfg *Config) string {
	if c.MongoDatabase != "" {
		return c.MongoDatabase
	}
	return cfg.Store.Database
}
