// Package optimize 在参数网格上反复驱动回测引擎并为组合排名。
package optimize

import (
	"bytes"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Grid 是 参数名 → 候选值列表 的搜索网格。
type Grid map[string][]float64

type gridFile struct {
	Grid map[string][]float64 `yaml:"grid"`
}

// LoadFile 读取 grid.yaml。文件只允许一个顶层 grid 段。
func LoadFile(path string) (Grid, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取网格文件失败: %w", err)
	}
	var f gridFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("解析网格文件 %s 失败: %w", path, err)
	}
	g := Grid(f.Grid)
	if err := g.normalize(); err != nil {
		return nil, err
	}
	return g, nil
}

// ParseInline 解析命令行内联网格，形如
// "stop_pct=0.03,0.05;max_hold_days=10,20"。
func ParseInline(s string) (Grid, error) {
	g := make(Grid)
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, list, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("网格片段 %q 缺少 =", part)
		}
		name = strings.TrimSpace(name)
		var vals []float64
		for _, rawVal := range strings.Split(list, ",") {
			rawVal = strings.TrimSpace(rawVal)
			if rawVal == "" {
				continue
			}
			v, err := strconv.ParseFloat(rawVal, 64)
			if err != nil {
				return nil, fmt.Errorf("网格参数 %s 的取值 %q 不是数字", name, rawVal)
			}
			vals = append(vals, v)
		}
		g[name] = vals
	}
	if err := g.normalize(); err != nil {
		return nil, err
	}
	return g, nil
}

// normalize 校验网格并去掉每条轴上的重复取值，保证组合元组两两不同。
func (g Grid) normalize() error {
	if len(g) == 0 {
		return fmt.Errorf("参数网格为空")
	}
	for name, vals := range g {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("网格存在空参数名")
		}
		if len(vals) == 0 {
			return fmt.Errorf("网格参数 %s 没有候选值", name)
		}
		seen := make(map[float64]struct{}, len(vals))
		dedup := vals[:0]
		for _, v := range vals {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("网格参数 %s 含非法取值", name)
			}
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			dedup = append(dedup, v)
		}
		g[name] = dedup
	}
	return nil
}

// Fields 返回排序后的参数名。
func (g Grid) Fields() []string {
	out := make([]string, 0, len(g))
	for name := range g {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Size 返回穷举组合总数。
func (g Grid) Size() int {
	if len(g) == 0 {
		return 0
	}
	total := 1
	for _, vals := range g {
		total *= len(vals)
	}
	return total
}

// Combos 按字段名排序展开笛卡尔积。输出顺序对同一网格完全确定。
func (g Grid) Combos() []map[string]float64 {
	fields := g.Fields()
	total := g.Size()
	if total == 0 {
		return nil
	}
	out := make([]map[string]float64, 0, total)
	idx := make([]int, len(fields))
	for {
		combo := make(map[string]float64, len(fields))
		for i, f := range fields {
			combo[f] = g[f][idx[i]]
		}
		out = append(out, combo)

		j := len(fields) - 1
		for j >= 0 {
			idx[j]++
			if idx[j] < len(g[fields[j]]) {
				break
			}
			idx[j] = 0
			j--
		}
		if j < 0 {
			return out
		}
	}
}

// Sample 按种子从穷举组合中无放回抽取 n 个，保持 Combos 的相对顺序。
// n 不小于组合总数时退化为穷举。
func (g Grid) Sample(n int, seed int64) []map[string]float64 {
	combos := g.Combos()
	if n <= 0 || n >= len(combos) {
		return combos
	}
	rng := rand.New(rand.NewSource(seed))
	picked := rng.Perm(len(combos))[:n]
	sort.Ints(picked)
	out := make([]map[string]float64, 0, n)
	for _, i := range picked {
		out = append(out, combos[i])
	}
	return out
}

// FormatParams 把参数组合按 key 排序渲染成稳定的短字符串，用于日志与排序。
func FormatParams(params map[string]float64) string {
	if len(params) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strconv.FormatFloat(params[k], 'g', -1, 64))
	}
	return strings.Join(parts, ",")
}
