package setup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eli-nuss/stratos-brain-sub001/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrUnknownSetup 表示请求的 setup 名不存在。
var ErrUnknownSetup = errors.New("unknown setup")

// FileConfig 映射 setups.yaml 的顶层结构。
type FileConfig struct {
	Setups map[string]Definition `yaml:"setups"`
}

// Snapshot 是某一时刻注册表的完整快照。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Setups   map[string]Definition
}

// ChangeListener 在注册表热重载后触发。
type ChangeListener func(Snapshot)

// Registry 持有全部 setup 定义。Get/WithOverrides 返回的都是拷贝，
// 注册表本身从不被调用方修改，多 goroutine 并发读取安全。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	schemas   map[string]*jsonschema.Schema
	listeners []ChangeListener
}

// NewRegistry 读取 setup 定义文件并监听变更。
// 任何定义级错误都在这里失败，仿真开始后不再出现配置错误。
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("setup registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read setup config failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("setup registry reload failed: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// OnChange 注册热重载回调。
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Snapshot 返回当前定义集的拷贝。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Get 返回指定 setup 的拷贝。
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.snapshot.Setups[strings.TrimSpace(name)]
	if !ok {
		return Definition{}, false
	}
	return def.clone(), true
}

// Names 返回已注册 setup 名（排序后）。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.snapshot.Setups))
	for name := range r.snapshot.Setups {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// WithOverrides 在拷贝上应用参数覆盖并返回新 Definition，注册表不变。
// params 先过 param_schema（若配置），再逐项写入，最后整体重新校验。
func (r *Registry) WithOverrides(name string, params map[string]float64) (Definition, error) {
	r.mu.RLock()
	def, ok := r.snapshot.Setups[strings.TrimSpace(name)]
	schema := r.schemas[strings.TrimSpace(name)]
	r.mu.RUnlock()
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownSetup, name)
	}
	out := def.clone()
	if len(params) == 0 {
		return out, nil
	}
	if schema != nil {
		doc := make(map[string]any, len(params))
		for k, v := range params {
			doc[k] = v
		}
		if err := schema.Validate(doc); err != nil {
			return Definition{}, fmt.Errorf("setup %s 参数未通过 schema 校验: %w", name, err)
		}
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := out.applyOverride(k, params[k]); err != nil {
			return Definition{}, err
		}
	}
	if err := out.validate(); err != nil {
		return Definition{}, fmt.Errorf("覆盖后的 setup 非法: %w", err)
	}
	return out, nil
}

func (r *Registry) reload() error {
	cfg, err := readSetupFile(r.path)
	if err != nil {
		return err
	}
	if len(cfg.Setups) == 0 {
		return fmt.Errorf("setup 文件 %s 为空", filepath.Base(r.path))
	}
	defs := make(map[string]Definition, len(cfg.Setups))
	schemas := make(map[string]*jsonschema.Schema)
	for name, def := range cfg.Setups {
		norm, err := normalizeDefinition(name, def)
		if err != nil {
			return err
		}
		if _, dup := defs[norm.Name]; dup {
			return fmt.Errorf("setup 名重复: %s", norm.Name)
		}
		if len(norm.ParamSchema) > 0 {
			compiled, err := compileSchema(norm.ParamSchema)
			if err != nil {
				return fmt.Errorf("setup %s param_schema 编译失败: %w", norm.Name, err)
			}
			schemas[norm.Name] = compiled
		}
		defs[norm.Name] = norm
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Setups:   defs,
	}
	r.schemas = schemas
	r.mu.Unlock()
	logger.Infof("Setup registry loaded %d setups from %s", len(defs), filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer safeRecover("setup registry listener")
			cb(snap)
		}(fn)
	}
}

func normalizeDefinition(name string, def Definition) (Definition, error) {
	def.Name = strings.TrimSpace(def.Name)
	if def.Name == "" {
		def.Name = strings.TrimSpace(name)
	}
	def.Description = strings.TrimSpace(def.Description)
	def.Category = strings.ToLower(strings.TrimSpace(def.Category))
	// 未声明 entry_timing 时保留空值，由引擎按 backtest.entry_timing 回退。
	def.EntryTiming = strings.ToLower(strings.TrimSpace(def.EntryTiming))
	if err := def.validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Setups:   make(map[string]Definition, len(src.Setups)),
	}
	for name, def := range src.Setups {
		dst.Setups[name] = def.clone()
	}
	return dst
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}

func compileSchema(data map[string]interface{}) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

func readSetupFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read setup config failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse setup config failed: %w", err)
	}
	return cfg, nil
}
