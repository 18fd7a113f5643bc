// Package config loads the proxy's process-level configuration: listener
// and broker addresses, logging toggles, and the ordered interceptor list.
package config

import (
	"github.com/elastic/go-ucfg"
	"github.com/elastic/go-ucfg/yaml"

	"github.com/kroxy/kroxy/internal/logging"
)

// Config is the top-level configuration record the daemon consumes.
type Config struct {
	ListenHost string `config:"listenHost"`
	ListenPort int    `config:"listenPort"`

	BrokerHost string `config:"brokerHost"`
	BrokerPort int    `config:"brokerPort"`

	LogNetwork bool `config:"logNetwork"`
	LogFrames  bool `config:"logFrames"`

	// Interceptors names the built-in interceptors to enable, in
	// registration order. Recognized values: "apiVersions", "addressRewrite".
	Interceptors []string `config:"interceptors"`

	// MaxFrameSize bounds the length prefix of any frame; frames declaring
	// more are a framing error and close the pair.
	MaxFrameSize int `config:"maxFrameSize"`

	// AddressRewritePortOffset configures the default port-offset address
	// mapper used by the broker-address-rewrite interceptor.
	AddressRewritePortOffset int `config:"addressRewritePortOffset"`

	Logging logging.Options `config:"logger"`
}

// Default returns the configuration the daemon falls back to when no
// option overrides a given field.
func Default() Config {
	return Config{
		ListenPort:               9092,
		BrokerPort:               9093,
		MaxFrameSize:             256 << 20,
		AddressRewritePortOffset: 100,
		Logging:                  logging.Options{Stdout: true, Level: "info"},
	}
}

// LoadPath reads and unpacks YAML configuration from path onto Default().
func LoadPath(path string) (Config, error) {
	uc, err := yaml.NewConfigWithFile(path, ucfg.PathSep("."))
	if err != nil {
		return Config{}, err
	}
	return unpack(uc)
}

// LoadBytes reads and unpacks YAML configuration from raw bytes onto
// Default(). Used by tests.
func LoadBytes(b []byte) (Config, error) {
	uc, err := yaml.NewConfig(b, ucfg.PathSep("."))
	if err != nil {
		return Config{}, err
	}
	return unpack(uc)
}

func unpack(uc *ucfg.Config) (Config, error) {
	cfg := Default()
	if err := uc.Unpack(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
