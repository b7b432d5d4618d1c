package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonathanMoss/OpenRailDataGateway/errors"
)

// validConfig returns a config that passes Validate
func validConfig() *Config {
	cfg := Default()
	cfg.Upstream.Host = "darwin-dist-44ae45.nationalrail.co.uk"
	cfg.Upstream.Topic = "/topic/darwin.pushport-v16"
	cfg.Upstream.Username = "DARWINuser"
	cfg.Upstream.Password = "secret"
	cfg.Downstream.AMQP.Username = "producer"
	cfg.Downstream.AMQP.Password = "secret"
	return cfg
}

func writeLayer(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// noEnv is a lookup with no variables set
func noEnv(string) (string, bool) { return "", false }

func envFrom(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 61613, cfg.Upstream.Port)
	assert.Equal(t, DownstreamAMQP, cfg.Downstream.Kind)
	assert.Equal(t, "rabbitmq_exchange", cfg.Downstream.AMQP.Exchange)
	assert.Equal(t, "/", cfg.Downstream.AMQP.VHost)
	assert.Equal(t, 131072, cfg.Downstream.AMQP.FrameMax)
	assert.Equal(t, 30*time.Second, cfg.Bridge.PublishTimeout)
	assert.Equal(t, time.Minute, cfg.Bridge.BackoffResetAfter)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoader_LoadJSON(t *testing.T) {
	path := writeLayer(t, "gateway.json", `{
		"upstream": {
			"host": "stomp.example.net",
			"port": 61614,
			"topic": "/topic/darwin.pushport-v16",
			"username": "u",
			"password": "p",
			"heart_beat": "15s"
		},
		"downstream": {"amqp": {"username": "prod", "password": "pw", "exchange": "darwin"}},
		"bridge": {"publish_timeout": "5s", "backoff_max": "2m"}
	}`)

	loader := NewLoader()
	loader.lookupEnv = noEnv
	cfg, err := loader.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "stomp.example.net", cfg.Upstream.Host)
	assert.Equal(t, 61614, cfg.Upstream.Port)
	assert.Equal(t, 15*time.Second, cfg.Upstream.HeartBeat)
	assert.Equal(t, "darwin", cfg.Downstream.AMQP.Exchange)
	assert.Equal(t, 5*time.Second, cfg.Bridge.PublishTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Bridge.BackoffMax)

	// Untouched keys keep their defaults
	assert.Equal(t, 5672, cfg.Downstream.AMQP.Port)
	assert.Equal(t, time.Second, cfg.Bridge.BackoffInitial)
	assert.Equal(t, 10*time.Second, cfg.Upstream.ConnectTimeout)
}

func TestLoader_YAMLLayerOverridesJSON(t *testing.T) {
	base := writeLayer(t, "base.json", `{"upstream": {"host": "a", "topic": "t"}, "bridge": {"publish_timeout": "5s"}}`)
	override := writeLayer(t, "prod.yaml", `
upstream:
  host: b
  client_id: gateway-prod
downstream:
  kind: nats
  nats:
    url: nats://nats:4222
    subject_prefix: darwin
    stream: DARWIN
    create_stream: true
    connect_timeout: 3s
bridge:
  backoff_multiplier: 1.5
`)

	loader := NewLoader()
	loader.lookupEnv = noEnv
	loader.AddLayer(base)
	loader.AddLayer(override)

	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "b", cfg.Upstream.Host)
	assert.Equal(t, "t", cfg.Upstream.Topic)
	assert.Equal(t, "gateway-prod", cfg.Upstream.ClientID)
	assert.Equal(t, DownstreamNATS, cfg.Downstream.Kind)
	assert.Equal(t, "darwin", cfg.Downstream.NATS.SubjectPrefix)
	assert.True(t, cfg.Downstream.NATS.CreateStream)
	assert.Equal(t, 3*time.Second, cfg.Downstream.NATS.ConnectTimeout)
	assert.Equal(t, 1.5, cfg.Bridge.BackoffMultiplier)
	assert.Equal(t, 5*time.Second, cfg.Bridge.PublishTimeout)
}

func TestLoader_BadDuration(t *testing.T) {
	path := writeLayer(t, "bad.json", `{"bridge": {"publish_timeout": "soon"}}`)

	loader := NewLoader()
	loader.lookupEnv = noEnv
	_, err := loader.LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bridge.publish_timeout")
}

func TestLoader_RejectsUnsupportedExtension(t *testing.T) {
	path := writeLayer(t, "gateway.toml", `x = 1`)

	_, err := NewLoader().LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only JSON or YAML")
}

func TestLoader_RejectsDeepJSON(t *testing.T) {
	deep := strings.Repeat("[", maxJSONDepth+1) + strings.Repeat("]", maxJSONDepth+1)
	path := writeLayer(t, "deep.json", `{"x": `+deep+`}`)

	_, err := NewLoader().LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too deep")
}

func TestLoader_EnvOverrides(t *testing.T) {
	loader := NewLoader()
	loader.lookupEnv = envFrom(map[string]string{
		"DARWIN_HOST":             "darwin.example",
		"DARWIN_PORT":             "61614",
		"DARWIN_TOPIC":            "/topic/darwin.pushport-v16",
		"DARWIN_USER":             "user",
		"DARWIN_PASS":             "pass",
		"RMQ_HOST":                "rabbit",
		"RMQ_PORT":                "5673",
		"RMQ_PROD_USER":           "producer",
		"RMQ_PROD_PASS":           "pw",
		"GATEWAY_PUBLISH_TIMEOUT": "7s",
		"GATEWAY_METRICS_ENABLED": "false",
		"GATEWAY_AMQP_EXPIRATION": "100000",
		"GATEWAY_UPSTREAM_TLS":    "true",
	})
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "darwin.example", cfg.Upstream.Host)
	assert.Equal(t, 61614, cfg.Upstream.Port)
	assert.Equal(t, "darwin.example:61614", cfg.Upstream.Addr())
	assert.Equal(t, "rabbit", cfg.Downstream.AMQP.Host)
	assert.Equal(t, 5673, cfg.Downstream.AMQP.Port)
	assert.Equal(t, "producer", cfg.Downstream.AMQP.Username)
	assert.Equal(t, 7*time.Second, cfg.Bridge.PublishTimeout)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "100000", cfg.Downstream.AMQP.Expiration)
	assert.True(t, cfg.Upstream.TLS.Enabled)
}

func TestLoader_EnvOverrideErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"port", map[string]string{"DARWIN_PORT": "sixty-one"}},
		{"duration", map[string]string{"GATEWAY_PUBLISH_TIMEOUT": "fast"}},
		{"bool", map[string]string{"GATEWAY_METRICS_ENABLED": "maybe"}},
		{"null byte", map[string]string{"DARWIN_HOST": "a\x00b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewLoader()
			loader.lookupEnv = envFrom(tt.env)

			_, err := loader.Load()
			require.Error(t, err)
			assert.True(t, stderrors.Is(err, errors.ErrInvalidConfig))
		})
	}
}

func TestLoader_CustomPrefix(t *testing.T) {
	loader := NewLoader()
	loader.SetEnvPrefix("ORDG")
	loader.lookupEnv = envFrom(map[string]string{"ORDG_DOWNSTREAM_KIND": "nats", "GATEWAY_DOWNSTREAM_KIND": "amqp"})

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, DownstreamNATS, cfg.Downstream.Kind)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		missing bool
		wantErr string
	}{
		{"valid", func(*Config) {}, false, ""},
		{"no host", func(c *Config) { c.Upstream.Host = "" }, true, "upstream.host"},
		{"no topic", func(c *Config) { c.Upstream.Topic = "" }, true, "upstream.topic"},
		{"no password", func(c *Config) { c.Upstream.Password = "" }, true, "upstream.password"},
		{"bad port", func(c *Config) { c.Upstream.Port = 70000 }, false, "upstream.port"},
		{"unknown kind", func(c *Config) { c.Downstream.Kind = "kafka" }, false, "downstream.kind"},
		{"amqp user", func(c *Config) { c.Downstream.AMQP.Username = "" }, true, "downstream.amqp.username"},
		{"exchange kind", func(c *Config) {
			c.Downstream.AMQP.DeclareExchange = true
			c.Downstream.AMQP.ExchangeKind = "x-weird"
		}, false, "exchange_kind"},
		{"expiration", func(c *Config) { c.Downstream.AMQP.Expiration = "10s" }, false, "expiration"},
		{"nats prefix", func(c *Config) {
			c.Downstream.Kind = DownstreamNATS
			c.Downstream.NATS.SubjectPrefix = "darwin.>"
		}, false, "subject_prefix"},
		{"nats stream", func(c *Config) {
			c.Downstream.Kind = DownstreamNATS
			c.Downstream.NATS.CreateStream = true
		}, false, "downstream.nats.stream"},
		{"backoff order", func(c *Config) { c.Bridge.BackoffMax = time.Millisecond }, false, "backoff_initial"},
		{"flat multiplier", func(c *Config) { c.Bridge.BackoffMultiplier = 1 }, false, "backoff_multiplier"},
		{"publish timeout", func(c *Config) { c.Bridge.PublishTimeout = 0 }, false, "timeouts"},
		{"frame limit", func(c *Config) { c.Bridge.MaxFrameBytes = 0 }, false, "max_frame_bytes"},
		{"tls version", func(c *Config) { c.Upstream.TLS.MinVersion = "1.0" }, false, "min_version"},
		{"half mtls", func(c *Config) { c.Downstream.AMQP.TLS.CertFile = "c.pem" }, false, "cert_file"},
		{"metrics addr", func(c *Config) { c.Metrics.Addr = "" }, true, "metrics.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, errors.IsInvalid(err))
			if tt.missing {
				assert.True(t, stderrors.Is(err, errors.ErrMissingConfig))
			} else {
				assert.True(t, stderrors.Is(err, errors.ErrInvalidConfig))
			}
		})
	}
}

func TestConfig_StringRedactsSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Downstream.NATS.Token = "tok"

	out := cfg.String()
	assert.NotContains(t, out, "secret")
	assert.NotContains(t, out, `"tok"`)
	assert.Contains(t, out, "********")

	// The original is untouched
	assert.Equal(t, "secret", cfg.Upstream.Password)
}
