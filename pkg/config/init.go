package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// sectionComments are written above each top-level key of a generated file.
var sectionComments = map[string]string{
	"logging":          "Logging: level is DEBUG, INFO, WARN or ERROR; format is text or json;\noutput is stdout, stderr or a file path.",
	"storage":          "Storage: root holds drives/<uuid>/, tmp/ and drives.json.\nEmpty drives_file and tmp_dir follow root; tmp_dir must live on the same\nfilesystem as the drives.",
	"forest":           "Forest: directory cache tuning. index_policy is all or media.\nhash_rate_limit caps hashing reads in bytes per second (0 = unlimited).",
	"media":            "Media: metadata extraction for hashed photos and videos.\nstore.type is memory or badger. gc drops records no indexed file refers to.",
	"watch":            "Watch: re-read directories on inotify events after debounce.",
	"metrics":          "Metrics: Prometheus /metrics and JSON /status endpoints.",
	"shutdown_timeout": "Maximum time to wait for graceful shutdown.",
}

// InitConfig writes a default configuration file to the default location.
//
// Returns the path of the written file. Fails if a file already exists there
// unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path, creating
// parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as YAML with a header and a comment
// per section. Durations are written in time.ParseDuration form.
func generateYAMLWithComments(cfg *Config) (string, error) {
	// paths under storage.root are left for ApplyDefaults, so that editing
	// root moves them along
	out := *cfg
	out.Storage.DrivesFile = ""
	out.Storage.TmpDir = ""
	out.Media.Store.Badger = make(map[string]any, len(cfg.Media.Store.Badger))
	for k, v := range cfg.Media.Store.Badger {
		if k != "path" {
			out.Media.Store.Badger[k] = v
		}
	}

	var doc yaml.Node
	if err := doc.Encode(&out); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i]
		if c, ok := sectionComments[key.Value]; ok {
			key.HeadComment = c
		}
	}

	setDuration(&doc, cfg.Forest.RetryDelay, "forest", "retry_delay")
	setDuration(&doc, cfg.Media.GC.Interval, "media", "gc", "interval")
	setDuration(&doc, cfg.Watch.Debounce, "watch", "debounce")
	setDuration(&doc, cfg.ShutdownTimeout, "shutdown_timeout")

	raw, err := yaml.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# Fruitmix Configuration File\n#\n" +
		"# Every key can be overridden with an environment variable:\n" +
		"# FRUITMIX_<SECTION>_<KEY>, e.g. FRUITMIX_FOREST_HASH_CONCURRENCY=4\n\n"
	return header + string(raw), nil
}

// setDuration replaces the integer at the mapping path with d.String().
func setDuration(node *yaml.Node, d time.Duration, path ...string) {
	for _, key := range path {
		node = lookup(node, key)
		if node == nil {
			return
		}
	}
	node.Kind = yaml.ScalarNode
	node.Tag = "!!str"
	node.Value = d.String()
}

func lookup(node *yaml.Node, key string) *yaml.Node {
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}
