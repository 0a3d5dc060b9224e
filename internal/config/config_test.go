package config

import (
	"os"
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.HTTPAddr != ":8081" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8081")
	}
	if cfg.AuthServiceURL != "http://auth-service:8082" {
		t.Errorf("AuthServiceURL = %q, want default", cfg.AuthServiceURL)
	}
	if !cfg.GatewayValidation || !cfg.GatewaySignatureValidation {
		t.Error("gateway and signature validation should default to enabled")
	}
	if cfg.GatewayForwardedBy != "SmartDrive-Gateway" {
		t.Errorf("GatewayForwardedBy = %q, want %q", cfg.GatewayForwardedBy, "SmartDrive-Gateway")
	}
	if cfg.GatewayMaxSkew() != 300*time.Second {
		t.Errorf("GatewayMaxSkew = %v, want 300s", cfg.GatewayMaxSkew())
	}
	if cfg.EventTransport != TransportKafka {
		t.Errorf("EventTransport = %q, want %q", cfg.EventTransport, TransportKafka)
	}
	if cfg.AMQPQueueUserRegistered != "smartdrive-user-registered-queue" {
		t.Errorf("AMQPQueueUserRegistered = %q, want original queue name", cfg.AMQPQueueUserRegistered)
	}
	if cfg.ReconcileCron != "0 2 * * *" {
		t.Errorf("ReconcileCron = %q, want %q", cfg.ReconcileCron, "0 2 * * *")
	}
	if cfg.ReconcileConcurrency != 4 {
		t.Errorf("ReconcileConcurrency = %d, want 4", cfg.ReconcileConcurrency)
	}
	if cfg.EventMaxAttempts != 5 {
		t.Errorf("EventMaxAttempts = %d, want 5", cfg.EventMaxAttempts)
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":9999")
	os.Setenv("EVENT_TRANSPORT", "AMQP")
	os.Setenv("GATEWAY_MAX_SKEW_SECONDS", "60")
	os.Setenv("GATEWAY_SIGNATURE_VALIDATION_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9999")
	}
	if cfg.EventTransport != TransportAMQP {
		t.Errorf("EventTransport = %q, want %q", cfg.EventTransport, TransportAMQP)
	}
	if cfg.GatewayMaxSkew() != time.Minute {
		t.Errorf("GatewayMaxSkew = %v, want 1m", cfg.GatewayMaxSkew())
	}
	if cfg.GatewaySignatureValidation {
		t.Error("GatewaySignatureValidation should be false")
	}
}

func TestLoad_InvalidTransport(t *testing.T) {
	os.Clearenv()
	os.Setenv("EVENT_TRANSPORT", "sqs")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown EVENT_TRANSPORT")
	}
}

func TestLoad_NonPositiveSkew(t *testing.T) {
	os.Clearenv()
	os.Setenv("GATEWAY_MAX_SKEW_SECONDS", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero skew")
	}
}

func TestLoad_ProductionRequiresSecrets(t *testing.T) {
	testCases := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{"no secrets", map[string]string{"APP_ENV": "production"}, true},
		{"only internal", map[string]string{"APP_ENV": "production", "GATEWAY_INTERNAL_SECRET": "a"}, true},
		{"both", map[string]string{"APP_ENV": "production", "GATEWAY_INTERNAL_SECRET": "a", "GATEWAY_SIGNING_SECRET": "b"}, false},
		{"signature disabled", map[string]string{
			"APP_ENV": "production", "GATEWAY_INTERNAL_SECRET": "a", "GATEWAY_SIGNATURE_VALIDATION_ENABLED": "false",
		}, false},
		{"development", map[string]string{"APP_ENV": "development"}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tc.env {
				os.Setenv(k, v)
			}
			_, err := Load()
			if (err != nil) != tc.wantErr {
				t.Errorf("Load error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestLoad_ReconcileConcurrency(t *testing.T) {
	os.Clearenv()
	os.Setenv("RECONCILE_CONCURRENCY", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for RECONCILE_CONCURRENCY=0")
	}
}

func TestDurations_Fallbacks(t *testing.T) {
	c := &Config{AuthServiceTimeout: "bogus", ProfileCacheTTL: "-1s", EventDedupTTL: ""}
	if got := c.AuthTimeout(); got != 5*time.Second {
		t.Errorf("AuthTimeout = %v, want 5s", got)
	}
	if got := c.CacheTTL(); got != 10*time.Minute {
		t.Errorf("CacheTTL = %v, want 10m", got)
	}
	if got := c.DedupTTL(); got != 24*time.Hour {
		t.Errorf("DedupTTL = %v, want 24h", got)
	}

	c = &Config{AuthServiceTimeout: "750ms"}
	if got := c.AuthTimeout(); got != 750*time.Millisecond {
		t.Errorf("AuthTimeout = %v, want 750ms", got)
	}
}

func TestKafkaBrokersList(t *testing.T) {
	testCases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"localhost:9092", []string{"localhost:9092"}},
		{" a:1 , ,b:2 ", []string{"a:1", "b:2"}},
	}
	for _, tc := range testCases {
		c := &Config{KafkaBrokers: tc.in}
		got := c.KafkaBrokersList()
		if len(got) == 0 && len(tc.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("KafkaBrokersList(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	var nilCfg *Config
	if nilCfg.KafkaBrokersList() != nil {
		t.Error("nil config should return nil broker list")
	}
}

func TestEventChannels(t *testing.T) {
	c := &Config{
		KafkaTopicUserRegistered: "t1", KafkaTopicEmailVerified: "t2", KafkaTopicEmailChanged: "t3",
		AMQPQueueUserRegistered: "q1", AMQPQueueEmailVerified: "q2", AMQPQueueEmailChanged: "q3",
	}
	if got := c.KafkaTopics(); got != (EventChannels{"t1", "t2", "t3"}) {
		t.Errorf("KafkaTopics = %+v", got)
	}
	if got := c.AMQPQueues(); got != (EventChannels{"q1", "q2", "q3"}) {
		t.Errorf("AMQPQueues = %+v", got)
	}
}
