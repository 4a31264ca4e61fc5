package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	GigaChat GigaChatConfig
	Logger   LoggerConfig
}

type LoggerConfig struct {
	Level string
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type GigaChatConfig struct {
	APIKey             string
	Scope              string
	InsecureSkipVerify bool
}

// Load reads configuration from the environment, optionally seeded from a
// .env file. The model credential and all database settings are mandatory:
// the process must not start without them.
func Load() (*Config, error) {
	// Try to load .env file from current directory or project root
	envFiles := []string{".env", "../.env", "../../.env"}
	for _, envFile := range envFiles {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}
	// If no .env file found, continue with environment variables
	// (useful for Docker/K8s)

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     os.Getenv("DB_HOST"),
			Port:     os.Getenv("DB_PORT"),
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			DBName:   os.Getenv("DB_NAME"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		GigaChat: GigaChatConfig{
			APIKey:             os.Getenv("GIGACHAT_API_KEY"),
			Scope:              getEnv("GIGACHAT_SCOPE", "GIGACHAT_API_PERS"),
			InsecureSkipVerify: getEnv("GIGACHAT_INSECURE_SKIP_VERIFY", "true") == "true",
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	required := []struct {
		key   string
		value string
	}{
		{"GIGACHAT_API_KEY", cfg.GigaChat.APIKey},
		{"DB_HOST", cfg.Database.Host},
		{"DB_PORT", cfg.Database.Port},
		{"DB_USER", cfg.Database.User},
		{"DB_PASSWORD", cfg.Database.Password},
		{"DB_NAME", cfg.Database.DBName},
	}
	for _, v := range required {
		if v.value == "" {
			return nil, fmt.Errorf("required environment variable %s is not set", v.key)
		}
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
