package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_ForestBounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ForestConfig)
	}{
		{"negative dir reads", func(f *ForestConfig) { f.DirReadConcurrency = -1 }},
		{"negative hashers", func(f *ForestConfig) { f.HashConcurrency = -2 }},
		{"negative retry delay", func(f *ForestConfig) { f.RetryDelay = -1 }},
		{"unknown index policy", func(f *ForestConfig) { f.IndexPolicy = "documents" }},
		{"negative rate limit", func(f *ForestConfig) { f.HashRateLimit = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(&cfg.Forest)
			if err := Validate(cfg); err == nil {
				t.Errorf("Expected validation error")
			}
		})
	}
}

func TestValidate_InvalidMediaStoreType(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Media.Store.Type = "sqlite"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for invalid media store type")
	}
}

func TestValidate_BadgerRequiresPath(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Media.Store.Type = "badger"
	cfg.Media.Store.Badger = map[string]any{}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for badger store without path")
	}
	if !strings.Contains(err.Error(), "media.store.badger.path") {
		t.Errorf("Expected error to name the path key, got: %v", err)
	}
}

func TestValidate_TmpDirInsideDrives(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.TmpDir = cfg.Storage.DrivesDir() + "/tmp"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for tmp dir inside drives")
	}
	if !strings.Contains(err.Error(), "storage.tmp_dir") {
		t.Errorf("Expected tmp_dir error, got: %v", err)
	}
}

func TestValidate_DrivesFileInsideDrives(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Storage.DrivesFile = cfg.Storage.DrivesDir() + "/drives.json"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for drives file inside drives")
	}
}

func TestWithin(t *testing.T) {
	tests := []struct {
		dir, path string
		want      bool
	}{
		{"/a/drives", "/a/drives", true},
		{"/a/drives", "/a/drives/x", true},
		{"/a/drives", "/a/tmp", false},
		{"/a/drives", "/a/drives2", false},
		{"/a/drives", "/a/..drives", false},
		{"/a/drives", "", false},
	}
	for _, tt := range tests {
		if got := within(tt.dir, tt.path); got != tt.want {
			t.Errorf("within(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}
