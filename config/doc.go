// Package config loads the gateway configuration.
//
// Configuration is built in layers, later layers winning:
//
//  1. Default() values
//  2. JSON or YAML files added with Loader.AddLayer, merged key by key
//  3. Environment variables
//  4. Validate, when enabled
//
// Durations may be written as Go duration strings ("30s") in any file layer.
//
// The feed and broker credentials keep their historical variable names:
//
//	DARWIN_HOST DARWIN_PORT DARWIN_TOPIC DARWIN_USER DARWIN_PASS
//	RMQ_HOST RMQ_PORT RMQ_PROD_USER RMQ_PROD_PASS RMQ_EXCHANGE
//
// Everything else is overridden with GATEWAY_* variables, for example
// GATEWAY_DOWNSTREAM_KIND=nats or GATEWAY_PUBLISH_TIMEOUT=10s.
//
// Basic usage:
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/gateway.yaml")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err // wraps errors.ErrInvalidConfig or errors.ErrMissingConfig
//	}
package config
