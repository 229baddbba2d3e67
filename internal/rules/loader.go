package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fyrsmithlabs/issueflow/internal/plugin"
	"gopkg.in/yaml.v3"
)

// File is a parsed rule file: the plugins of one phase.
type File struct {
	Phase   string    `yaml:"phase" toml:"phase"`
	Rules   []Rule    `yaml:"rules" toml:"rules"`
	Path    string    `yaml:"-" toml:"-"`
	Plugins []*Plugin `yaml:"-" toml:"-"`
}

// Parse decodes, validates and compiles one YAML rule file payload.
func Parse(data []byte) (*File, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: payload is empty", ErrInvalidRule)
	}
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if err := f.compile(); err != nil {
		return nil, err
	}
	return &f, nil
}

// ParseTOML is Parse for TOML rule files:
//
//	phase = "10-detect"
//
//	[[rules]]
//	kind = "FlagCrash"
//	test = 'status == "crashed"'
//	set = { crashed = "true" }
func ParseTOML(data []byte) (*File, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: payload is empty", ErrInvalidRule)
	}
	var f File
	md, err := toml.Decode(string(data), &f)
	if err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown keys %v", ErrInvalidRule, undecoded)
	}
	if err := f.compile(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) compile() error {
	f.Phase = strings.TrimSpace(f.Phase)
	if f.Phase == "" {
		return fmt.Errorf("%w: phase is required", ErrInvalidRule)
	}
	seen := make(map[string]bool, len(f.Rules))
	for _, r := range f.Rules {
		p, err := Compile(r)
		if err != nil {
			return fmt.Errorf("phase %s: %w", f.Phase, err)
		}
		if seen[p.Kind()] {
			return fmt.Errorf("%w: phase %s: duplicate kind %q", ErrInvalidRule, f.Phase, p.Kind())
		}
		seen[p.Kind()] = true
		f.Plugins = append(f.Plugins, p)
	}
	return nil
}

// LoadFile reads and parses a rule file. Files ending in .toml are TOML,
// everything else is YAML.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	parse := Parse
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		parse = ParseTOML
	}
	f, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Path = filepath.Clean(path)
	return f, nil
}

// LoadDir parses every *.yaml, *.yml and *.toml file in dir, in name order.
// A missing directory yields no rules.
func LoadDir(dir string) ([]*File, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var files []*File
	for _, entry := range entries {
		if entry.IsDir() || !isRuleFile(entry.Name()) {
			continue
		}
		f, err := LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Register adds the plugins of files to reg, file by file, in rule order.
func Register(reg *plugin.Registry, files []*File) error {
	for _, f := range files {
		for _, p := range f.Plugins {
			if err := reg.Register(f.Phase, p); err != nil {
				return fmt.Errorf("register %s from %s: %w", p.Kind(), f.Path, err)
			}
		}
	}
	return nil
}

func isRuleFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".toml":
		return true
	}
	return false
}
