// config/config.go
package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Configuration stores all the configurations
type Configuration struct {
	Server        ServerConfiguration
	Engine        EngineConfiguration
	Redis         RedisConfiguration
	Elasticsearch ElasticsearchConfiguration
	Identity      IdentityConfiguration
}

// ServerConfiguration stores the port and other web server settings
type ServerConfiguration struct {
	Port string
}

// EngineConfiguration stores tunables for the permission and workflow engines
type EngineConfiguration struct {
	SyncInterval  string
	EventHistory  int
	AccessLogSize int
	StepTimeout   string
	ArchiveSize   int
}

// RedisConfiguration stores data for Redis connection
type RedisConfiguration struct {
	Addr       string
	SessionTTL string
}

// ElasticsearchConfiguration stores data for Elasticsearch connection
type ElasticsearchConfiguration struct {
	URL string
}

// IdentityConfiguration stores the base URL of the identity backend
type IdentityConfiguration struct {
	BaseURL string
}

var config *Configuration

func InitConfig() error {
	viper.AddConfigPath("config") // path to look for the config file in
	viper.SetConfigName("config") // name of the config file (without extension)
	viper.SetConfigType("yaml")   // REQUIRED if the config file does not have the extension in the name

	viper.AutomaticEnv() // read in environment variables that match

	// Set default configurations
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("engine.syncInterval", "30s")
	viper.SetDefault("engine.eventHistory", 1000)
	viper.SetDefault("engine.accessLogSize", 1000)
	viper.SetDefault("engine.stepTimeout", "30s")
	viper.SetDefault("engine.archiveSize", 512)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.sessionTTL", "24h")
	viper.SetDefault("elasticsearch.url", "http://localhost:9200")
	viper.SetDefault("identity.baseURL", "http://localhost:9090")
	viper.SetDefault("log.dir", "logging")

	// Attempt to read the config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found. Using default settings and environment variables.")
		} else {
			return err
		}
	}

	// Unmarshal the configuration into the Configuration struct
	err := viper.Unmarshal(&config)
	if err != nil {
		return err
	}

	return nil
}

// GetConfig returns the loaded configuration
func GetConfig() *Configuration {
	return config
}

// GetString retrieves a string value from the configuration
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt retrieves an integer value from the configuration
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool retrieves a boolean value from the configuration
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration retrieves a duration value from the configuration
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}
