package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const defaultMessageWindow = 100

type Config struct {
	ServerUrl       string
	DatabaseUrl     string
	ProjectId       string
	CredentialsFile string
	Environment     string
	MessageWindow   int
}

// Load reads the optional .env file and builds the configuration from the
// process environment. Values already present in the environment win over .env.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return Config{}, err
		}
	}

	cfg := Config{
		ServerUrl:       getEnv("SERVER_URL", "localhost:3003"),
		DatabaseUrl:     os.Getenv("DATABASE_URL"),
		ProjectId:       os.Getenv("FIREBASE_PROJECT_ID"),
		CredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),
		Environment:     getEnv("APP_ENV", "production"),
		MessageWindow:   defaultMessageWindow,
	}

	if window := os.Getenv("MESSAGE_WINDOW"); window != "" {
		n, err := strconv.Atoi(window)
		if err != nil {
			return Config{}, err
		}
		if n > 0 {
			cfg.MessageWindow = n
		}
	}

	return cfg, nil
}

func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
