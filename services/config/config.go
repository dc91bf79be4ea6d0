package config

import (
	"context"
	"errors"
	"os"

	"dhtnode-go/bus"
	"dhtnode-go/types"

	"gopkg.in/yaml.v3"
)

const (
	serviceName  = "config"
	configPrefix = "config"

	sectionHAL      = "hal"
	sectionReporter = "reporter"
)

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(node string) ([]byte, bool) {
	b, ok := embeddedConfigs[node]
	return b, ok
}

// Document is one parsed node configuration. HAL and Reporter are typed;
// any other top-level section is kept as decoded YAML.
type Document struct {
	HAL      types.HALConfig
	Reporter types.ReporterConfig
	Sections map[string]any
}

// Parse decodes a YAML node configuration.
func Parse(raw []byte) (Document, error) {
	var top map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &top); err != nil {
		return Document{}, err
	}
	if top == nil {
		return Document{}, errors.New("config: empty document")
	}

	doc := Document{Sections: map[string]any{}}
	for key, node := range top {
		var err error
		switch key {
		case sectionHAL:
			err = node.Decode(&doc.HAL)
		case sectionReporter:
			err = node.Decode(&doc.Reporter)
		default:
			var v any
			err = node.Decode(&v)
			doc.Sections[key] = v
		}
		if err != nil {
			return Document{}, errors.New("config: section " + key + ": " + err.Error())
		}
	}
	if err := validateHAL(doc.HAL); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func validateHAL(c types.HALConfig) error {
	seen := make(map[string]struct{}, len(c.Devices))
	for _, d := range c.Devices {
		if d.ID == "" || d.Type == "" {
			return errors.New("config: hal device needs id and type")
		}
		if _, dup := seen[d.ID]; dup {
			return errors.New("config: duplicate hal device id: " + d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	for _, p := range c.Pollers {
		if p.Name == "" || p.Kind == "" || p.IntervalMs == 0 {
			return errors.New("config: poller needs kind, name and interval_ms")
		}
	}
	return nil
}

// LoadFile reads and parses a YAML configuration file.
func LoadFile(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	return Parse(raw)
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
	Node string // embedded configuration key
	Path string // file overriding the embedded configuration
}

func NewConfigService(node, path string) *ConfigService {
	return &ConfigService{Name: serviceName, Node: node, Path: path}
}

// Load resolves the file if one is set, otherwise the embedded document.
func (s *ConfigService) Load() (Document, error) {
	if s.Path != "" {
		return LoadFile(s.Path)
	}
	if s.Node == "" {
		return Document{}, errors.New("config: missing node id")
	}
	raw, ok := EmbeddedConfigLookup(s.Node)
	if !ok || len(raw) == 0 {
		return Document{}, errors.New("config: no embedded config for node: " + s.Node)
	}
	return Parse(raw)
}

// Publish places every section retained under config/<section>.
func Publish(conn *bus.Connection, doc Document) {
	conn.Publish(conn.NewMessage(bus.T(configPrefix, sectionHAL), doc.HAL, true))
	conn.Publish(conn.NewMessage(bus.T(configPrefix, sectionReporter), doc.Reporter, true))
	for k, v := range doc.Sections {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), v, true))
	}
}

// Start loads the configuration and publishes it.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	doc, err := s.Load()
	if err != nil {
		return Document{}, err
	}
	Publish(conn, doc)
	return doc, nil
}
