// Package config loads the optional YAML file accepted by --config.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/die-net/sockws/internal/ws"
)

// File mirrors the YAML document. Zero values mean "not set" so that command
// line flags can fill them in.
type File struct {
	URL         string            `yaml:"url"`
	Proxy       string            `yaml:"proxy"`
	Agent       *Agent            `yaml:"agent"`
	Headers     map[string]string `yaml:"headers"`
	Compression *bool             `yaml:"compression"`

	DialTimeout        time.Duration `yaml:"dial_timeout"`
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
	CloseTimeout       time.Duration `yaml:"close_timeout"`

	DNSServer    string `yaml:"dns_server"`
	DNSCacheSize int    `yaml:"dns_cache_size"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Agent is the YAML form of ws.Agent.
type Agent struct {
	ShouldLookup bool   `yaml:"should_lookup"`
	UserID       string `yaml:"user_id"`
	Password     string `yaml:"password"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
}

// Load reads and strictly decodes path. Unknown keys are errors.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}

	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	return f, nil
}

// Parse decodes a YAML document. An empty document yields an empty File.
func Parse(data []byte) (*File, error) {
	f := &File{}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	if err := f.validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) validate() error {
	if f.Agent != nil {
		if f.Agent.Host == "" {
			return errors.New("agent.host is required")
		}
		if f.Agent.Port <= 0 || f.Agent.Port > 65535 {
			return fmt.Errorf("agent.port %d out of range", f.Agent.Port)
		}
	}
	if f.DNSCacheSize < 0 {
		return fmt.Errorf("dns_cache_size %d is negative", f.DNSCacheSize)
	}
	return nil
}

// WSAgent converts the agent section, or returns nil when there is none.
func (f *File) WSAgent() *ws.Agent {
	if f.Agent == nil {
		return nil
	}
	return &ws.Agent{
		ShouldLookup: f.Agent.ShouldLookup,
		Proxy: ws.AgentProxy{
			UserID:   f.Agent.UserID,
			Password: f.Agent.Password,
			Host:     f.Agent.Host,
			Port:     f.Agent.Port,
		},
	}
}
