// Package universe 把命名的标的池解析为具体的、按日期有效的资产列表。
package universe

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eli-nuss/stratos-brain-sub001/internal/market"
)

const (
	KindFixed       = "fixed"
	KindTopTurnover = "top_n_by_turnover"
)

// Member 固定名单中的一个成员，Start/End 为可选的有效期边界。
type Member struct {
	AssetID string `yaml:"asset_id"`
	Start   string `yaml:"start"`
	End     string `yaml:"end"`

	startDate time.Time
	endDate   time.Time
}

// Definition 描述一个标的池：固定名单或按成交额动态排名。
type Definition struct {
	Name        string   `yaml:"-"`
	Description string   `yaml:"description"`
	Kind        string   `yaml:"kind"`
	Members     []Member `yaml:"members"`
	AssetClass  string   `yaml:"asset_class"`
	Size        int      `yaml:"size"`
	WindowDays  int      `yaml:"window_days"`
}

type fileConfig struct {
	Universes map[string]Definition `yaml:"universes"`
}

// Set 保存一份配置文件中的全部标的池定义。
type Set struct {
	defs map[string]Definition
}

// LoadFile 读取并校验标的池配置，任何非法定义都让加载失败。
func LoadFile(path string) (*Set, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取标的池配置失败: %w", err)
	}
	var fc fileConfig
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return nil, fmt.Errorf("解析标的池配置 %s 失败: %w", path, err)
	}
	if len(fc.Universes) == 0 {
		return nil, fmt.Errorf("标的池配置 %s 为空", path)
	}
	defs := make(map[string]Definition, len(fc.Universes))
	for name, def := range fc.Universes {
		def.Name = name
		if err := def.normalize(); err != nil {
			return nil, fmt.Errorf("标的池 %s 配置非法: %w", name, err)
		}
		defs[name] = def
	}
	return &Set{defs: defs}, nil
}

func (s *Set) Get(name string) (Definition, bool) {
	def, ok := s.defs[name]
	return def, ok
}

func (s *Set) Names() []string {
	names := make([]string, 0, len(s.defs))
	for name := range s.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Definition) normalize() error {
	d.Kind = strings.ToLower(strings.TrimSpace(d.Kind))
	d.AssetClass = strings.ToLower(strings.TrimSpace(d.AssetClass))
	switch d.Kind {
	case KindFixed:
		if len(d.Members) == 0 {
			return fmt.Errorf("fixed 标的池至少需要一个成员")
		}
		for i := range d.Members {
			if err := d.Members[i].normalize(); err != nil {
				return err
			}
		}
	case KindTopTurnover:
		if d.Size < 1 {
			return fmt.Errorf("size 必须 >= 1，当前 %d", d.Size)
		}
		if d.WindowDays < 1 {
			return fmt.Errorf("window_days 必须 >= 1，当前 %d", d.WindowDays)
		}
		if d.AssetClass == "" {
			return fmt.Errorf("top_n_by_turnover 标的池需要 asset_class")
		}
	case "":
		return fmt.Errorf("缺少 kind")
	default:
		return fmt.Errorf("不支持的 kind %q", d.Kind)
	}
	return nil
}

func (m *Member) normalize() error {
	m.AssetID = strings.TrimSpace(m.AssetID)
	if m.AssetID == "" {
		return fmt.Errorf("成员缺少 asset_id")
	}
	var err error
	if strings.TrimSpace(m.Start) != "" {
		if m.startDate, err = market.ParseDate(m.Start); err != nil {
			return fmt.Errorf("成员 %s: %w", m.AssetID, err)
		}
	}
	if strings.TrimSpace(m.End) != "" {
		if m.endDate, err = market.ParseDate(m.End); err != nil {
			return fmt.Errorf("成员 %s: %w", m.AssetID, err)
		}
	}
	if !m.startDate.IsZero() && !m.endDate.IsZero() && m.endDate.Before(m.startDate) {
		return fmt.Errorf("成员 %s 的有效期区间颠倒", m.AssetID)
	}
	return nil
}

// validOn 判断成员在给定交易日是否有效，未设置的边界视为不限。
func (m Member) validOn(day time.Time) bool {
	if !m.startDate.IsZero() && day.Before(m.startDate) {
		return false
	}
	if !m.endDate.IsZero() && day.After(m.endDate) {
		return false
	}
	return true
}
