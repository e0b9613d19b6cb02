package config

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log    Log    `yaml:"log"`
	Neo4j  Neo4j  `yaml:"neo4j"`
	Server Server `yaml:"server"`
}

type Log struct {
	// Telegram logging config
	Telegram TelegramLog `yaml:"telegram"`
}

type TelegramLog struct {
	// Chat bot token, obtain it via BotFather
	Token string `yaml:"token" example:"1234567890:ABCdefGHIjklMNopQRstUVwxyZ-123456789"`
	// Chat ID to send messages to
	ChatID string `yaml:"chat_id" example:"1001234567890"`
}

type Neo4j struct {
	// Bolt URI of the Neo4j instance
	URI string `yaml:"uri" example:"bolt://localhost:7687" validate:"required"`
	// Neo4j username
	Username string `yaml:"username" example:"neo4j" validate:"required"`
	// Neo4j password
	Password string `yaml:"password" validate:"required"`
	// Database name
	Database string `yaml:"database" example:"neo4j" validate:"required"`
}

type Server struct {
	// MCP server name reported to clients
	Name string `yaml:"name" example:"graph-memory"`
	// Transport to serve on
	Transport string `yaml:"transport" example:"http" validate:"required,oneof=stdio http"`
	// Host to bind to
	Host string `yaml:"host" example:"127.0.0.1"`
	// Port to listen on
	Port int `yaml:"port" example:"8443"`
	// Disable TLS and serve plain HTTP
	NoSSL bool `yaml:"no_ssl" example:"false"`
	// Path to a TLS certificate, a self-signed one is generated when empty
	CertFile string `yaml:"cert_file"`
	// Path to a TLS private key, a self-signed one is generated when empty
	KeyFile string `yaml:"key_file"`
	// Install the generated certificate into the system trust store
	TrustCert bool `yaml:"trust_cert" example:"false"`
}

func Load() (*Config, error) {
	var result Config

	data, err := os.ReadFile("config.yaml")
	if err != nil {
		return nil, oops.Errorf("failed to read config file: %w", err)
	}

	if err = yaml.Unmarshal(data, &result); err != nil {
		return nil, oops.Errorf("failed to parse YAML config: %w", err)
	}

	applyDefaults(&result)

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(result); err != nil {
		return nil, oops.Errorf("failed to validate config: %w", err)
	}

	return &result, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Neo4j.URI == "" {
		cfg.Neo4j.URI = "bolt://localhost:7687"
	}
	if cfg.Neo4j.Username == "" {
		cfg.Neo4j.Username = "neo4j"
	}
	if cfg.Neo4j.Password == "" {
		cfg.Neo4j.Password = "password"
	}
	if cfg.Neo4j.Database == "" {
		cfg.Neo4j.Database = "neo4j"
	}

	if cfg.Server.Name == "" {
		cfg.Server.Name = "graph-memory"
	}
	if cfg.Server.Transport == "" {
		cfg.Server.Transport = "http"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		if cfg.Server.NoSSL {
			cfg.Server.Port = 8080
		} else {
			cfg.Server.Port = 8443
		}
	}
}
