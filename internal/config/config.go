package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
		// BaseURL is where OAuth callbacks redirect back to, token attached.
		BaseURL string
	}
	Database struct {
		Path string
	}
	Auth struct {
		JWTSecret     string
		TokenTTLHours int
	}
	OAuth struct {
		Facebook ProviderConfig
		Google   ProviderConfig
		Twitter  ProviderConfig
	}
	Storage struct {
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
	SeedDB bool
}

// ProviderConfig is the client registration for one OAuth provider.
// A provider with an empty client id is not offered.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

// Configured reports whether the provider has a usable registration.
func (p ProviderConfig) Configured() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("ACCOUNT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:9000")
	v.SetDefault("server.baseurl", "http://localhost:9000")
	v.SetDefault("database.path", "data/accounts.db")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("auth.tokenttlhours", 5)
	v.SetDefault("oauth.facebook.clientid", "")
	v.SetDefault("oauth.facebook.clientsecret", "")
	v.SetDefault("oauth.facebook.callbackurl", "")
	v.SetDefault("oauth.google.clientid", "")
	v.SetDefault("oauth.google.clientsecret", "")
	v.SetDefault("oauth.google.callbackurl", "")
	v.SetDefault("oauth.twitter.clientid", "")
	v.SetDefault("oauth.twitter.clientsecret", "")
	v.SetDefault("oauth.twitter.callbackurl", "")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "oauth-profiles")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("seeddb", false)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
