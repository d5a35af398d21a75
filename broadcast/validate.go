package broadcast

import (
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/dailyyoga/mongoconfigs/logger"
	"go.uber.org/zap"
)

const (
	adminRetries    = 3
	adminRetryDelay = 2 * time.Second
)

// validateCluster checks that the brokers answer a metadata request
func validateCluster(log logger.Logger, brokers []string) error {
	configMap := &kafka.ConfigMap{
		"bootstrap.servers":  strings.Join(brokers, ","),
		"request.timeout.ms": 10000,
	}

	var adminClient *kafka.AdminClient
	var err error
	for i := 0; i < adminRetries; i++ {
		adminClient, err = kafka.NewAdminClient(configMap)
		if err == nil {
			break
		}
		if i < adminRetries-1 {
			log.Warn("failed to create kafka admin client, retrying...",
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("max_retries", adminRetries),
			)
			time.Sleep(adminRetryDelay)
		}
	}
	if err != nil {
		return ErrConnection(err)
	}
	defer adminClient.Close()

	if _, err := adminClient.GetMetadata(nil, false, int((10 * time.Second).Milliseconds())); err != nil {
		return ErrConnection(err)
	}

	log.Info("kafka brokers connection validated", zap.Strings("brokers", brokers))
	return nil
}
