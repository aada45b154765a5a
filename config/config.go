package config

import "time"

type Config struct {
	RedisConfig     RedisConfig
	HttpPort        int
	LogLevel        string
	SessionTTL      time.Duration
	MessageQueueTTL time.Duration
	CacheTTL        time.Duration
	SweepInterval   time.Duration
	MaxTransitions  int
	MinSampleSize   int
	LockStripes     int
	AnalyticsFile   string
}

type RedisConfig struct {
	Addrs     []string
	Namespace string
}

func Default() Config {
	return Config{
		HttpPort:        8080,
		LogLevel:        "info",
		SessionTTL:      30 * time.Minute,
		MessageQueueTTL: 5 * time.Minute,
		CacheTTL:        5 * time.Second,
		SweepInterval:   time.Minute,
		MaxTransitions:  25,
		MinSampleSize:   30,
		LockStripes:     64,
		RedisConfig: RedisConfig{
			Addrs:     []string{"localhost:6379"},
			Namespace: "parley",
		},
	}
}
