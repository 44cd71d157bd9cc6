package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("success - defaults populate every field", func(t *testing.T) {
		cfg, err := Load()

		require.NoError(t, err)
		assert.Equal(t, "access-log-eodhp-dev", cfg.Bucket)
		assert.Equal(t, "processed_logs.json", cfg.StateFile)
		assert.Equal(t, "eu-west-2", cfg.Region)
		assert.Equal(t, "https://ip-ranges.amazonaws.com/ip-ranges.json", cfg.IPRangesURL)
		assert.Equal(t, "/mnt/state/fallback_ip_ranges.json", cfg.FallbackRangesFile)
		assert.Equal(t, "eodatahub-workspaces.org.uk", cfg.WorkspacesDomain)
		assert.Equal(t, "host-header", cfg.LogFormat)
		assert.Equal(t, "amqp", cfg.EventSink)
		assert.Equal(t, "billing-events", cfg.AMQPExchange)
	})

	t.Run("success - environment overrides defaults", func(t *testing.T) {
		t.Setenv("S3_BUCKET", "access-log-eodhp-prod")
		t.Setenv("LOG_FOLDER", "AWSLogs/cloudfront/")
		t.Setenv("DISTRIBUTION_ID", "E2EXAMPLE")
		t.Setenv("STATE_FILE", "/mnt/state/processed_logs.json")
		t.Setenv("AWS_REGION", "us-east-1")
		t.Setenv("LOG_FORMAT", "uri-path")
		t.Setenv("EVENT_SINK", "stdout")

		cfg, err := Load()

		require.NoError(t, err)
		assert.Equal(t, "access-log-eodhp-prod", cfg.Bucket)
		assert.Equal(t, "AWSLogs/cloudfront/", cfg.LogFolder)
		assert.Equal(t, "E2EXAMPLE", cfg.DistributionID)
		assert.Equal(t, "/mnt/state/processed_logs.json", cfg.StateFile)
		assert.Equal(t, "us-east-1", cfg.Region)
		assert.Equal(t, "uri-path", cfg.LogFormat)
		assert.Equal(t, "stdout", cfg.EventSink)
	})

	t.Run("error - unknown log format", func(t *testing.T) {
		t.Setenv("LOG_FORMAT", "csv")

		_, err := Load()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "LogFormat")
	})

	t.Run("error - unknown event sink", func(t *testing.T) {
		t.Setenv("EVENT_SINK", "kafka")

		_, err := Load()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "EventSink")
	})

	t.Run("error - amqp sink requires a broker URL", func(t *testing.T) {
		t.Setenv("EVENT_SINK", "amqp")
		t.Setenv("AMQP_URL", "")

		_, err := Load()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "AMQPURL")
	})

	t.Run("success - stdout sink needs no broker URL", func(t *testing.T) {
		t.Setenv("EVENT_SINK", "stdout")
		t.Setenv("AMQP_URL", "")
		t.Setenv("AMQP_EXCHANGE", "")

		cfg, err := Load()

		require.NoError(t, err)
		assert.Equal(t, "stdout", cfg.EventSink)
	})

	t.Run("error - host-header format requires a workspaces domain", func(t *testing.T) {
		t.Setenv("LOG_FORMAT", "host-header")
		t.Setenv("WORKSPACES_DOMAIN", "")

		_, err := Load()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "WorkspacesDomain")
	})

	t.Run("success - uri-path format works without a workspaces domain", func(t *testing.T) {
		t.Setenv("LOG_FORMAT", "uri-path")
		t.Setenv("WORKSPACES_DOMAIN", "")

		_, err := Load()

		require.NoError(t, err)
	})

	t.Run("error - malformed ranges URL", func(t *testing.T) {
		t.Setenv("AWS_IP_RANGES_URL", "not a url")

		_, err := Load()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "IPRangesURL")
	})
}

func TestConfig_LogPrefix(t *testing.T) {
	t.Run("folder only", func(t *testing.T) {
		cfg := Config{LogFolder: "AWSLogs/cloudfront/"}
		assert.Equal(t, "AWSLogs/cloudfront/", cfg.LogPrefix())
	})

	t.Run("distribution narrows the prefix", func(t *testing.T) {
		cfg := Config{LogFolder: "AWSLogs/cloudfront/", DistributionID: "E2EXAMPLE"}
		assert.Equal(t, "AWSLogs/cloudfront/E2EXAMPLE.", cfg.LogPrefix())
	})

	t.Run("empty folder keeps the bucket root", func(t *testing.T) {
		cfg := Config{DistributionID: "E2EXAMPLE"}
		assert.Equal(t, "E2EXAMPLE.", cfg.LogPrefix())
	})
}
