package prompt

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"arena/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Template 描述一个可绑定到账户的提示词模板。
type Template struct {
	Key         string `yaml:"key" json:"key"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Text        string `yaml:"text" json:"text"`
	Builtin     bool   `yaml:"-" json:"builtin"`
}

// Requirements 返回模板需要预取的 K 线序列。
func (t Template) Requirements(defaultCount, maxCount int) ([]SeriesRequirement, error) {
	return Requirements(t.Text, defaultCount, maxCount)
}

// FileConfig 映射模板覆盖文件。
type FileConfig struct {
	Templates []Template        `yaml:"templates"`
	Bindings  map[string]string `yaml:"bindings"`
}

// Catalog 管理内置模板、文件覆盖与账户绑定；文件变更时自动重载。
type Catalog struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	version   int64
	loadedAt  time.Time
	templates map[string]Template
	bindings  map[string]string
	fallback  string
}

// NewCatalog 加载内置模板；path 非空时读取覆盖文件并监听变更。
func NewCatalog(path, fallback string) (*Catalog, error) {
	fallback = strings.TrimSpace(fallback)
	if fallback == "" {
		fallback = "default"
	}
	c := &Catalog{path: strings.TrimSpace(path), fallback: fallback}
	if err := c.reload(); err != nil {
		return nil, err
	}
	if c.path == "" {
		return c, nil
	}
	v := viper.New()
	v.SetConfigFile(c.path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read prompt catalog failed: %w", err)
	}
	c.v = v
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := c.reload(); err != nil {
			logger.Errorf("prompt catalog reload failed: %v", err)
		}
	})
	v.WatchConfig()
	return c, nil
}

func (c *Catalog) reload() error {
	templates := builtinTemplates()
	for key, tpl := range templates {
		tpl.Builtin = true
		templates[key] = tpl
	}
	bindings := make(map[string]string)
	if c.path != "" {
		cfg, err := readCatalogFile(c.path)
		if err != nil {
			return err
		}
		for _, tpl := range cfg.Templates {
			key := strings.ToLower(strings.TrimSpace(tpl.Key))
			if key == "" || strings.TrimSpace(tpl.Text) == "" {
				continue
			}
			if _, err := Parse(tpl.Text, 0); err != nil {
				return fmt.Errorf("template %s: %w", key, err)
			}
			tpl.Key = key
			tpl.Builtin = false
			templates[key] = tpl
		}
		for acct, key := range cfg.Bindings {
			bindings[strings.TrimSpace(acct)] = strings.ToLower(strings.TrimSpace(key))
		}
	}
	c.mu.Lock()
	c.templates = templates
	for acct, key := range c.bindings {
		if _, ok := bindings[acct]; !ok {
			bindings[acct] = key
		}
	}
	c.bindings = bindings
	c.version++
	c.loadedAt = time.Now()
	c.mu.Unlock()
	if c.path != "" {
		logger.Infof("Prompt catalog loaded %d templates from %s", len(templates), filepath.Base(c.path))
	}
	return nil
}

func readCatalogFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read prompt catalog failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse prompt catalog failed: %w", err)
	}
	return cfg, nil
}

// Get 按 key 返回模板。
func (c *Catalog) Get(key string) (Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tpl, ok := c.templates[strings.ToLower(strings.TrimSpace(key))]
	return tpl, ok
}

// List returns templates sorted by key.
func (c *Catalog) List() []Template {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Template, 0, len(c.templates))
	for _, tpl := range c.templates {
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Put 新增或覆盖一个模板（仅内存，不回写文件）。
func (c *Catalog) Put(tpl Template) error {
	key := strings.ToLower(strings.TrimSpace(tpl.Key))
	if key == "" {
		return fmt.Errorf("template key required")
	}
	if _, err := Parse(tpl.Text, 0); err != nil {
		return err
	}
	tpl.Key = key
	tpl.Builtin = false
	c.mu.Lock()
	c.templates[key] = tpl
	c.version++
	c.mu.Unlock()
	return nil
}

// Restore 将模板恢复为内置文本。
func (c *Catalog) Restore(key string) (Template, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	builtin, ok := builtinTemplates()[key]
	if !ok {
		return Template{}, fmt.Errorf("no builtin template %q", key)
	}
	builtin.Builtin = true
	c.mu.Lock()
	c.templates[key] = builtin
	c.version++
	c.mu.Unlock()
	return builtin, nil
}

// Bind 把账户绑定到模板。
func (c *Catalog) Bind(accountID, key string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	if _, ok := c.Get(key); !ok {
		return fmt.Errorf("unknown template %q", key)
	}
	c.mu.Lock()
	c.bindings[strings.TrimSpace(accountID)] = key
	c.mu.Unlock()
	return nil
}

// ForAccount 返回账户绑定的模板，未绑定或绑定失效时退回默认模板。
func (c *Catalog) ForAccount(accountID string) Template {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if key, ok := c.bindings[strings.TrimSpace(accountID)]; ok {
		if tpl, ok := c.templates[key]; ok {
			return tpl
		}
	}
	if tpl, ok := c.templates[c.fallback]; ok {
		return tpl
	}
	return c.templates["default"]
}

func (c *Catalog) Version() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}
