package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options
type Config struct {
	// Server config
	Port         string   `long:"port" env:"PORT" default:"8443" description:"Server port"`
	RPID         string   `long:"rp-id" env:"RP_ID" default:"localhost" description:"Relying party ID"`
	RPName       string   `long:"rp-name" env:"RP_NAME" default:"Passkey Verification Service" description:"Relying party display name"`
	RPOrigins    []string `long:"rp-origin" env:"RP_ORIGIN" env-delim:"," default:"http://localhost:8443" description:"Relying party origins"`
	RPConfigPath string   `long:"rp-config" env:"RP_CONFIG" description:"Optional YAML file with relying party settings (overrides rp flags)"`

	// Ceremony config
	ChallengeTTL     time.Duration `long:"challenge-ttl" env:"CHALLENGE_TTL" default:"60s" description:"Challenge time-to-live"`
	UserVerification string        `long:"user-verification" env:"USER_VERIFICATION" default:"required" choice:"required" choice:"preferred" description:"User verification requirement"`

	// Storage config
	ChallengeMode  string `long:"challenge-mode" env:"CHALLENGE_MODE" default:"memory" choice:"memory" choice:"redis" description:"Challenge storage backend"`
	CredentialMode string `long:"credential-mode" env:"CREDENTIAL_MODE" default:"sqlite" choice:"sqlite" choice:"s3" choice:"memory" description:"Credential storage backend"`

	// SQLite storage
	SQLitePath string `long:"sqlite-path" env:"SQLITE_PATH" default:"./data/credentials.db" description:"SQLite credential database path"`

	// S3 storage
	S3 struct {
		Endpoint  string `long:"s3-endpoint" env:"S3_ENDPOINT" default:"localhost:9000" description:"S3 endpoint (host:port)"`
		Bucket    string `long:"s3-bucket" env:"S3_BUCKET" default:"passkey-credentials" description:"S3 bucket name"`
		AccessKey string `long:"s3-access-key" env:"S3_ACCESS_KEY" default:"minioadmin" description:"S3 access key"`
		SecretKey string `long:"s3-secret-key" env:"S3_SECRET_KEY" default:"minioadmin" description:"S3 secret key"`
		UseSSL    bool   `long:"s3-use-ssl" env:"S3_USE_SSL" description:"Use SSL for S3 connections"`
	} `group:"S3 Storage Options"`

	// Redis config
	Redis struct {
		Addr     string `long:"redis-addr" env:"REDIS_ADDR" default:"localhost:6379" description:"Redis address"`
		Password string `long:"redis-password" env:"REDIS_PASSWORD" description:"Redis password"`
		DB       int    `long:"redis-db" env:"REDIS_DB" default:"0" description:"Redis database number"`
	} `group:"Redis Options"`
}

// relyingPartyFile is the YAML shape of the optional --rp-config file.
type relyingPartyFile struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Origins []string `yaml:"origins"`
}

// LoadConfig parses configuration from environment variables and command line flags
func LoadConfig() (*Config, error) {
	var config Config

	parser := flags.NewParser(&config, flags.Default)
	parser.Usage = "[OPTIONS]"

	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if config.RPConfigPath != "" {
		if err := config.applyRelyingPartyFile(config.RPConfigPath); err != nil {
			return nil, err
		}
	}

	return &config, nil
}

func (c *Config) applyRelyingPartyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read rp config: %w", err)
	}

	var rp relyingPartyFile
	if err := yaml.Unmarshal(data, &rp); err != nil {
		return fmt.Errorf("failed to parse rp config: %w", err)
	}

	if rp.ID != "" {
		c.RPID = rp.ID
	}
	if rp.Name != "" {
		c.RPName = rp.Name
	}
	if len(rp.Origins) > 0 {
		c.RPOrigins = rp.Origins
	}

	return nil
}
