package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix prefixes the gateway's own environment overrides
const DefaultEnvPrefix = "GATEWAY"

// durationKeys lists, per section path, the keys holding durations.
// Layers may write them as strings ("30s") or as integer nanoseconds.
var durationKeys = map[string][]string{
	"upstream":        {"heart_beat", "connect_timeout", "read_timeout"},
	"downstream.amqp": {"heartbeat", "connect_timeout"},
	"downstream.nats": {"connect_timeout"},
	"bridge":          {"backoff_initial", "backoff_max", "backoff_reset_after", "handshake_timeout", "publish_timeout"},
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: false,
		envPrefix:  DefaultEnvPrefix,
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer. JSON and YAML files are accepted.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the prefix of the gateway's own environment overrides
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges defaults, every layer in order, then environment overrides
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		rawConfig, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		merged, err := l.mergeFromMap(cfg, rawConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to merge %s: %w", path, err)
		}
		cfg = merged
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadRaw loads a JSON or YAML file as a generic map
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var rawConfig map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &rawConfig); err != nil {
			return nil, err
		}
	default:
		// Validate JSON depth to prevent DoS
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &rawConfig); err != nil {
			return nil, err
		}
	}

	if err := parseDurations(rawConfig); err != nil {
		return nil, err
	}
	return rawConfig, nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields present in the map
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}

	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))

	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}

		// If both base and override have maps at this key, merge them
		if baseMap, baseOk := base[k].(map[string]any); baseOk {
			if overrideMap, overrideOk := v.(map[string]any); overrideOk {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}

		result[k] = v
	}

	return result
}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func parseDurations(data map[string]any) error {
	for section, keys := range durationKeys {
		m := lookupSection(data, section)
		if m == nil {
			continue
		}
		for _, key := range keys {
			s, ok := m[key].(string)
			if !ok {
				continue
			}
			d, err := time.ParseDuration(s)
			if err != nil {
				return fmt.Errorf("%s.%s: %w", section, key, err)
			}
			m[key] = d.Nanoseconds()
		}
	}
	return nil
}

func lookupSection(data map[string]any, path string) map[string]any {
	current := data
	for _, key := range strings.Split(path, ".") {
		next, ok := current[key].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return current
}

// applyEnvOverrides applies environment variable overrides. The feed and
// broker variables keep the names the gateway has always been deployed with;
// everything else sits under the loader's prefix.
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	p := l.envPrefix + "_"
	o := envOverrides{lookup: l.lookupEnv}

	// Upstream feed
	o.str("DARWIN_HOST", &cfg.Upstream.Host)
	o.port("DARWIN_PORT", &cfg.Upstream.Port)
	o.str("DARWIN_TOPIC", &cfg.Upstream.Topic)
	o.str("DARWIN_USER", &cfg.Upstream.Username)
	o.str("DARWIN_PASS", &cfg.Upstream.Password)
	o.str(p+"UPSTREAM_CLIENT_ID", &cfg.Upstream.ClientID)
	o.str(p+"UPSTREAM_SUBSCRIPTION_NAME", &cfg.Upstream.SubscriptionName)
	o.duration(p+"UPSTREAM_HEART_BEAT", &cfg.Upstream.HeartBeat)
	o.boolean(p+"UPSTREAM_TLS", &cfg.Upstream.TLS.Enabled)

	// Downstream broker
	o.str(p+"DOWNSTREAM_KIND", &cfg.Downstream.Kind)
	o.str("RMQ_HOST", &cfg.Downstream.AMQP.Host)
	o.port("RMQ_PORT", &cfg.Downstream.AMQP.Port)
	o.str("RMQ_PROD_USER", &cfg.Downstream.AMQP.Username)
	o.str("RMQ_PROD_PASS", &cfg.Downstream.AMQP.Password)
	o.str("RMQ_EXCHANGE", &cfg.Downstream.AMQP.Exchange)
	o.str(p+"AMQP_VHOST", &cfg.Downstream.AMQP.VHost)
	o.boolean(p+"AMQP_DECLARE_EXCHANGE", &cfg.Downstream.AMQP.DeclareExchange)
	o.str(p+"AMQP_EXPIRATION", &cfg.Downstream.AMQP.Expiration)
	o.str(p+"NATS_URL", &cfg.Downstream.NATS.URL)
	o.str(p+"NATS_USERNAME", &cfg.Downstream.NATS.Username)
	o.str(p+"NATS_PASSWORD", &cfg.Downstream.NATS.Password)
	o.str(p+"NATS_TOKEN", &cfg.Downstream.NATS.Token)
	o.str(p+"NATS_SUBJECT_PREFIX", &cfg.Downstream.NATS.SubjectPrefix)
	o.str(p+"NATS_STREAM", &cfg.Downstream.NATS.Stream)

	// Bridge policy
	o.duration(p+"PUBLISH_TIMEOUT", &cfg.Bridge.PublishTimeout)
	o.duration(p+"BACKOFF_INITIAL", &cfg.Bridge.BackoffInitial)
	o.duration(p+"BACKOFF_MAX", &cfg.Bridge.BackoffMax)

	// Metrics
	o.boolean(p+"METRICS_ENABLED", &cfg.Metrics.Enabled)
	o.str(p+"METRICS_ADDR", &cfg.Metrics.Addr)

	return o.err
}

// envOverrides applies variables and keeps the first error
type envOverrides struct {
	lookup func(string) (string, bool)
	err    error
}

func (o *envOverrides) get(key string) (string, bool) {
	if o.err != nil {
		return "", false
	}
	val, ok := o.lookup(key)
	if !ok || val == "" {
		return "", false
	}
	if err := validateEnvVar(key, val); err != nil {
		o.err = invalid(err.Error())
		return "", false
	}
	return val, true
}

func (o *envOverrides) str(key string, dst *string) {
	if val, ok := o.get(key); ok {
		*dst = val
	}
}

func (o *envOverrides) port(key string, dst *int) {
	val, ok := o.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		o.err = invalid(fmt.Sprintf("%s=%q is not a port number", key, val))
		return
	}
	*dst = n
}

func (o *envOverrides) duration(key string, dst *time.Duration) {
	val, ok := o.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		o.err = invalid(fmt.Sprintf("%s=%q is not a duration", key, val))
		return
	}
	*dst = d
}

func (o *envOverrides) boolean(key string, dst *bool) {
	val, ok := o.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		o.err = invalid(fmt.Sprintf("%s=%q is not a boolean", key, val))
		return
	}
	*dst = b
}
