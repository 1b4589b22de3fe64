package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 前缀的环境变量可覆盖配置文件中已出现的标量键，
// 例如 ARENA_APP_LOG_LEVEL 覆盖 app.log_level。
const EnvPrefix = "ARENA_"

// Load 读取 path 及其 include 链（被包含文件先合并，后者覆盖前者），
// 应用环境变量覆盖、默认值与校验。
func Load(path string) (*Config, error) {
	files, err := includeOrder(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range files {
		part := viper.New()
		part.SetConfigFile(file)
		if err := part.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
		if err := v.MergeConfigMap(part.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging config file failed (%s): %w", file, err)
		}
	}
	keys := settingsKeys(v.AllSettings())
	applyEnvOverrides(v, keys)

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults(keys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// includeOrder 深度优先展开 include，返回合并顺序；检测环。
func includeOrder(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	var (
		order    []string
		done     = make(map[string]bool)
		visiting = make(map[string]bool)
		visit    func(p string) error
	)
	visit = func(p string) error {
		p = filepath.Clean(p)
		switch {
		case visiting[p]:
			return fmt.Errorf("include cycle detected: %s", p)
		case done[p]:
			return nil
		}
		visiting[p] = true
		includes, err := readIncludes(p)
		if err != nil {
			return fmt.Errorf("parsing include failed (%s): %w", p, err)
		}
		for _, inc := range includes {
			if !filepath.IsAbs(inc) {
				inc = filepath.Join(filepath.Dir(p), inc)
			}
			if err := visit(inc); err != nil {
				return err
			}
		}
		delete(visiting, p)
		done[p] = true
		order = append(order, p)
		return nil
	}
	if err := visit(root); err != nil {
		return nil, err
	}
	return order, nil
}

// readIncludes 只解析顶层 include 字段。
func readIncludes(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var head struct {
		Include yaml.Node `yaml:"include"`
	}
	if err := yaml.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	node := head.Include
	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.SequenceNode:
	default:
		return nil, fmt.Errorf("include must be a string array")
	}
	out := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind != yaml.ScalarNode || (item.Tag != "!!str" && item.Tag != "") {
			return nil, fmt.Errorf("include only supports strings")
		}
		if s := strings.TrimSpace(item.Value); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// settingsKeys 收集配置中显式出现的键路径（小写、点分）。列表本身记为一个键。
func settingsKeys(settings map[string]any) keySet {
	keys := make(keySet)
	var walk func(prefix string, node any)
	walk = func(prefix string, node any) {
		children, ok := node.(map[string]any)
		if !ok {
			if prefix != "" {
				keys.mark(prefix)
			}
			if items, isList := node.([]any); isList {
				for _, item := range items {
					if m, isMap := item.(map[string]any); isMap {
						for k, v := range m {
							walk(joinKey(prefix, k), v)
						}
					}
				}
			}
			return
		}
		for k, v := range children {
			walk(joinKey(prefix, k), v)
		}
	}
	walk("", settings)
	return keys
}

func joinKey(prefix, key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// applyEnvOverrides 用 EnvPrefix 环境变量覆盖已有标量键。
func applyEnvOverrides(v *viper.Viper, keys keySet) {
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, key := range names {
		switch v.Get(key).(type) {
		case nil, []any, map[string]any:
			continue
		}
		env := EnvPrefix + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
		if val, ok := os.LookupEnv(env); ok {
			v.Set(key, val)
		}
	}
}
