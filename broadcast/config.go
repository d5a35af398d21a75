package broadcast

import (
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Config is the configuration of the Kafka reload-signal transport
type Config struct {
	// Enabled turns cross-process reload signals on
	// default: false
	Enabled bool `mapstructure:"enabled"`

	// kafka connection config
	Brokers []string `mapstructure:"brokers"`

	// Topic carries the reload signals of every process
	// default: "mongoconfigs.reload"
	Topic string `mapstructure:"topic"`

	// GroupPrefix is joined with the process id to form a consumer group per process,
	// so that every process receives every signal
	// default: "mongoconfigs"
	GroupPrefix string `mapstructure:"group_prefix"`

	// Optional: kafka client id, shown in broker logs and metrics
	ClientID string `mapstructure:"client_id"`

	// Acks required before a published signal counts as written: "all", "1" or "0"
	// default: "all"
	Acks string `mapstructure:"acks"`

	// Compression codec for published signals: none, gzip, snappy, lz4, zstd
	// default: "none"
	Compression string `mapstructure:"compression"`

	// Max delivery attempts of one received signal to the handler
	// default: 3
	MaxRetries int `mapstructure:"max_retries"`

	// Session timeout
	// default: 30s
	SessionTimeout time.Duration `mapstructure:"session_timeout"`

	// PollTimeout bounds one consumer poll so shutdown is noticed
	// default: 100ms
	PollTimeout time.Duration `mapstructure:"poll_timeout"`

	// Security protocol: only "PLAINTEXT" is supported for now
	// default: "PLAINTEXT"
	SecurityProtocol string `mapstructure:"security_protocol"`

	// Debug enables librdkafka consumer debug logs
	Debug bool `mapstructure:"debug"`
}

// DefaultConfig returns the default configuration of the reload-signal transport
func DefaultConfig() *Config {
	return &Config{
		Topic:            "mongoconfigs.reload",
		GroupPrefix:      "mongoconfigs",
		Acks:             "all",
		Compression:      "none",
		MaxRetries:       3,
		SessionTimeout:   30 * time.Second,
		PollTimeout:      100 * time.Millisecond,
		SecurityProtocol: "PLAINTEXT",
	}
}

// MergeDefaults fills zero fields with their default values
func (c *Config) MergeDefaults() {
	defaults := DefaultConfig()
	if c.Topic == "" {
		c.Topic = defaults.Topic
	}
	if c.GroupPrefix == "" {
		c.GroupPrefix = defaults.GroupPrefix
	}
	if c.Acks == "" {
		c.Acks = defaults.Acks
	}
	if c.Compression == "" {
		c.Compression = defaults.Compression
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = defaults.SessionTimeout
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = defaults.PollTimeout
	}
	if c.SecurityProtocol == "" {
		c.SecurityProtocol = defaults.SecurityProtocol
	}
}

// Validate validates the configuration; a disabled transport is always valid
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return ErrInvalidConfig("brokers are required")
	}
	if c.Topic == "" {
		return ErrInvalidConfig("topic is required")
	}
	switch strings.ToLower(c.Acks) {
	case "all", "-1", "1", "0":
	default:
		return ErrInvalidConfig(fmt.Sprintf("invalid acks: %s, must be one of all, -1, 1, 0", c.Acks))
	}
	if c.MaxRetries <= 0 {
		return ErrInvalidConfig("max_retries must be greater than 0")
	}
	if c.SessionTimeout <= 0 {
		return ErrInvalidConfig("session_timeout must be greater than 0")
	}
	if c.PollTimeout <= 0 {
		return ErrInvalidConfig("poll_timeout must be greater than 0")
	}
	return nil
}

// GroupID returns the consumer group of the process identified by instance
func (c *Config) GroupID(instance string) string {
	return c.GroupPrefix + "-" + instance
}

// BuildConsumerConfigMap returns the librdkafka settings of a signal consumer.
// A fresh group starts at the latest offset: signals sent before a process started are irrelevant to it.
func (c *Config) BuildConsumerConfigMap(groupID string) *kafka.ConfigMap {
	configMap := &kafka.ConfigMap{
		"bootstrap.servers":  strings.Join(c.Brokers, ","),
		"group.id":           groupID,
		"auto.offset.reset":  "latest",
		"enable.auto.commit": false,
		"session.timeout.ms": int(c.SessionTimeout.Milliseconds()),
		"security.protocol":  c.SecurityProtocol,
	}
	if c.ClientID != "" {
		_ = configMap.SetKey("client.id", c.ClientID)
	}
	if c.Debug {
		_ = configMap.SetKey("debug", "consumer,cgrp,topic,fetch")
	}
	return configMap
}

// BuildProducerConfigMap returns the librdkafka settings of the signal producer
func (c *Config) BuildProducerConfigMap() *kafka.ConfigMap {
	configMap := &kafka.ConfigMap{
		"bootstrap.servers": strings.Join(c.Brokers, ","),
		"compression.type":  strings.ToLower(c.Compression),
		"acks":              strings.ToLower(c.Acks),
		"retries":           c.MaxRetries,
		"security.protocol": c.SecurityProtocol,
	}
	if c.ClientID != "" {
		_ = configMap.SetKey("client.id", c.ClientID)
	}
	return configMap
}
