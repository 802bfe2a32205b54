// Package config manages the contexts of the ehri CLI.
//
// Configuration is stored under os.UserConfigDir()/ehri/, or under
// $EHRI_CONFIG_DIR when set:
//
//	ehri/
//	├── current-context          # plain text: name of current context
//	└── contexts/
//	    ├── dev/
//	    │   ├── graph.yaml       # backend, index and id settings
//	    │   └── data/            # default database location
//	    └── staging/
//	        └── ...
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
)

const (
	appDir             = "ehri"
	currentContextFile = "current-context"
	contextsDir        = "contexts"
	graphFile          = "graph.yaml"
	dataDir            = "data"
)

// Environment variables consulted by the CLI.
const (
	EnvConfigDir = "EHRI_CONFIG_DIR"
	EnvDataDir   = "EHRI_DATA_DIR"
	EnvBackend   = "EHRI_BACKEND"
)

// ErrNoContext is returned when no current context is set.
var ErrNoContext = errors.New("no current context set; use 'ehri ctx use <name>'")

// Graph is the graph.yaml of a context.
type Graph struct {
	// Backend is the KV store: badger (default), sqlite or memory.
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty" validate:"omitempty,oneof=badger memory sqlite"`

	// DataDir holds the database files. Defaults to the context's data/
	// directory.
	DataDir string `yaml:"data_dir,omitempty" json:"data_dir,omitempty"`

	// Index is the graph index strategy: auto, shared or label.
	Index string `yaml:"index,omitempty" json:"index,omitempty" validate:"omitempty,oneof=auto shared label"`

	// Prefix is the key prefix of the graph inside the store.
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty" validate:"omitempty,excludesall=:/"`

	// SlugReplace replaces unsafe characters in generated ids.
	SlugReplace string `yaml:"slug_replace,omitempty" json:"slug_replace,omitempty" validate:"omitempty,len=1"`

	// Scope is the default permission scope chain for new items.
	Scope []string `yaml:"scope,omitempty" json:"scope,omitempty" validate:"dive,required"`

	// Export is the target of 'ehri export'.
	Export *Export `yaml:"export,omitempty" json:"export,omitempty"`
}

// Export selects a local directory or an S3 bucket.
type Export struct {
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty" validate:"excluded_with=S3"`
	S3  *S3    `yaml:"s3,omitempty" json:"s3,omitempty"`
}

// S3 locates an S3 (or S3-compatible) bucket.
type S3 struct {
	Bucket   string `yaml:"bucket" json:"bucket" validate:"required"`
	Prefix   string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Region   string `yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty" validate:"omitempty,url"`
}

// ContextInfo describes a context in list output.
type ContextInfo struct {
	Name    string `json:"name"`
	Current bool   `json:"current"`
}

// KeyInfo describes a settable config key.
type KeyInfo struct {
	Key         string `json:"key"`
	Description string `json:"description"`
}

var validKeys = map[string]string{
	"backend":            "KV store (badger/sqlite/memory)",
	"data_dir":           "Database directory",
	"index":              "Index strategy (auto/shared/label)",
	"prefix":             "Key prefix of the graph",
	"slug_replace":       "Replacement for unsafe id characters",
	"scope":              "Default scope chain, comma separated",
	"export.dir":         "Local export directory",
	"export.s3.bucket":   "S3 export bucket",
	"export.s3.prefix":   "S3 export key prefix",
	"export.s3.region":   "S3 region",
	"export.s3.endpoint": "S3-compatible endpoint URL",
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks g's field values.
func (g *Graph) Validate() error {
	err := validate.Struct(g)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fieldError(e))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func fieldError(e validator.FieldError) string {
	field := strings.TrimPrefix(e.Namespace(), "Graph.")
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "len":
		return fmt.Sprintf("%s must be %s character(s)", field, e.Param())
	case "excludesall":
		return fmt.Sprintf("%s must not contain any of %q", field, e.Param())
	case "excluded_with":
		return fmt.Sprintf("%s cannot be combined with %s", field, strings.ToLower(e.Param()))
	case "url":
		return fmt.Sprintf("%s must be a URL", field)
	}
	return fmt.Sprintf("%s is invalid", field)
}

// Store provides file-system operations over the context directories.
type Store struct {
	dir string
}

// Open opens $EHRI_CONFIG_DIR, or the default configuration directory.
func Open() (*Store, error) {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return OpenAt(dir)
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("config: cannot determine config directory: %w", err)
	}
	return OpenAt(filepath.Join(base, appDir))
}

// OpenAt opens a configuration directory, creating it if needed.
func OpenAt(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("config: create config dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the root configuration directory path.
func (s *Store) Dir() string { return s.dir }

func (s *Store) ctxDir(name string) string {
	return filepath.Join(s.dir, contextsDir, name)
}

func (s *Store) graphPath(name string) string {
	return filepath.Join(s.ctxDir(name), graphFile)
}

func (s *Store) currentPath() string {
	return filepath.Join(s.dir, currentContextFile)
}

// Add creates a new context with an empty graph.yaml.
func (s *Store) Add(name string) error {
	if err := validateName(name); err != nil {
		return fmt.Errorf("ctx add: %w", err)
	}
	dir := s.ctxDir(name)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("ctx add: context %q already exists", name)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("ctx add: %w", err)
	}
	return nil
}

// Remove deletes a context and its data directory. It refuses to delete
// the current context.
func (s *Store) Remove(name string) error {
	if err := validateName(name); err != nil {
		return fmt.Errorf("ctx remove: %w", err)
	}
	if cur, _ := s.Current(); cur == name {
		return fmt.Errorf("ctx remove: cannot remove current context %q; switch first with 'ctx use'", name)
	}
	dir := s.ctxDir(name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("ctx remove: context %q not found", name)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("ctx remove: %w", err)
	}
	return nil
}

// Use switches the current context.
func (s *Store) Use(name string) error {
	if err := validateName(name); err != nil {
		return fmt.Errorf("ctx use: %w", err)
	}
	if _, err := os.Stat(s.ctxDir(name)); os.IsNotExist(err) {
		return fmt.Errorf("ctx use: context %q not found", name)
	}
	return writeFile(s.currentPath(), []byte(name+"\n"))
}

// Current returns the name of the current context.
func (s *Store) Current() (string, error) {
	data, err := os.ReadFile(s.currentPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoContext
		}
		return "", fmt.Errorf("ctx current: %w", err)
	}
	name := strings.TrimSpace(string(data))
	if name == "" {
		return "", ErrNoContext
	}
	return name, nil
}

// List returns all contexts, sorted by name.
func (s *Store) List() ([]ContextInfo, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, contextsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("ctx list: %w", err)
	}
	cur, _ := s.Current()
	var infos []ContextInfo
	for _, e := range entries {
		if e.IsDir() {
			infos = append(infos, ContextInfo{Name: e.Name(), Current: e.Name() == cur})
		}
	}
	return infos, nil
}

// Show returns the stored graph.yaml of a context, without defaults. An
// empty name means the current context.
func (s *Store) Show(name string) (string, *Graph, error) {
	if name == "" {
		var err error
		if name, err = s.Current(); err != nil {
			return "", nil, err
		}
	}
	if err := validateName(name); err != nil {
		return "", nil, fmt.Errorf("ctx show: %w", err)
	}
	if _, err := os.Stat(s.ctxDir(name)); os.IsNotExist(err) {
		return "", nil, fmt.Errorf("ctx show: context %q not found", name)
	}
	path := s.graphPath(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return name, &Graph{}, nil
		}
		return "", nil, fmt.Errorf("ctx show: %w", err)
	}
	var g Graph
	if err := yaml.Unmarshal(data, &g); err != nil {
		return "", nil, fmt.Errorf("ctx show: parse %s: %w", path, err)
	}
	return name, &g, nil
}

// Load returns the effective configuration of a context: graph.yaml with
// defaults filled in and environment overrides applied. An empty name means
// the current context.
func (s *Store) Load(name string) (string, *Graph, error) {
	name, g, err := s.Show(name)
	if err != nil {
		return "", nil, err
	}
	if v := os.Getenv(EnvBackend); v != "" {
		g.Backend = v
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		g.DataDir = v
	}
	if g.Backend == "" {
		g.Backend = "badger"
	}
	if g.Index == "" {
		g.Index = "auto"
	}
	if g.DataDir == "" {
		g.DataDir = filepath.Join(s.ctxDir(name), dataDir)
	}
	if err := g.Validate(); err != nil {
		return "", nil, fmt.Errorf("context %q: %w", name, err)
	}
	return name, g, nil
}

// Set sets a config key on the current context. Invalid values are
// rejected before anything is written.
func (s *Store) Set(key, value string) error {
	if _, ok := validKeys[key]; !ok {
		return fmt.Errorf("ctx config set: unknown key %q; valid keys: %s", key, keyNames())
	}
	name, g, err := s.Show("")
	if err != nil {
		return err
	}
	if err := g.set(key, value); err != nil {
		return fmt.Errorf("ctx config set: %w", err)
	}
	if err := g.Validate(); err != nil {
		return fmt.Errorf("ctx config set: %w", err)
	}
	data, err := yaml.Marshal(g)
	if err != nil {
		return fmt.Errorf("ctx config set: marshal: %w", err)
	}
	return writeFile(s.graphPath(name), data)
}

func (g *Graph) set(key, value string) error {
	switch key {
	case "backend":
		g.Backend = value
	case "data_dir":
		g.DataDir = value
	case "index":
		g.Index = value
	case "prefix":
		g.Prefix = value
	case "slug_replace":
		g.SlugReplace = value
	case "scope":
		g.Scope = nil
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				g.Scope = append(g.Scope, s)
			}
		}
	case "export.dir":
		if g.Export == nil {
			g.Export = &Export{}
		}
		g.Export.Dir = value
	default:
		if g.Export == nil {
			g.Export = &Export{}
		}
		if g.Export.S3 == nil {
			g.Export.S3 = &S3{}
		}
		switch key {
		case "export.s3.bucket":
			g.Export.S3.Bucket = value
		case "export.s3.prefix":
			g.Export.S3.Prefix = value
		case "export.s3.region":
			g.Export.S3.Region = value
		case "export.s3.endpoint":
			g.Export.S3.Endpoint = value
		default:
			return fmt.Errorf("unknown key %q", key)
		}
	}
	return nil
}

// Keys returns all settable config keys with descriptions.
func (s *Store) Keys() []KeyInfo {
	keys := make([]KeyInfo, 0, len(validKeys))
	for k, desc := range validKeys {
		keys = append(keys, KeyInfo{Key: k, Description: desc})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Key < keys[j].Key })
	return keys
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("name %q must not contain path separators", name)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("name %q must not start with '.'", name)
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func keyNames() string {
	keys := make([]string, 0, len(validKeys))
	for k := range validKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ", ")
}
