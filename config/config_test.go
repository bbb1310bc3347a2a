package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		HttpPort:       8080,
		StorageType:    STORAGE_TYPE_INMEM,
		ApprovalConfig: ApprovalConfig{DefaultTTL: 24 * time.Hour, SweepInterval: time.Minute},
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validConfig().Validate())

	cases := map[string]func(c *Config){
		"bad port":             func(c *Config) { c.HttpPort = 0 },
		"unknown storage":      func(c *Config) { c.StorageType = "cassandra" },
		"redis without addrs":  func(c *Config) { c.StorageType = STORAGE_TYPE_REDIS },
		"postgres without dsn": func(c *Config) { c.StorageType = STORAGE_TYPE_POSTGRES },
		"stream without redis": func(c *Config) { c.AnalyticsConfig.RedisStream = "events" },
		"negative ttl":         func(c *Config) { c.ApprovalConfig.DefaultTTL = -time.Second },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := validConfig()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	c := validConfig()
	c.StorageType = STORAGE_TYPE_REDIS
	c.RedisConfig.Addrs = []string{"localhost:6379"}
	c.AnalyticsConfig.RedisStream = "events"
	assert.NoError(t, c.Validate())
}
