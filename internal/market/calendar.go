package market

import (
	"fmt"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// ParseDate 解析 YYYY-MM-DD 并归一化到 UTC 零点。
func ParseDate(input string) (time.Time, error) {
	trimmed := strings.TrimSpace(input)
	t, err := time.Parse(DateLayout, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("无法解析日期 %q: %w", input, err)
	}
	return Day(t), nil
}

// MustParseDate 只用于测试和固定常量，解析失败直接 panic。
func MustParseDate(input string) time.Time {
	t, err := ParseDate(input)
	if err != nil {
		panic(err)
	}
	return t
}

// Day 把任意时间截断到所在 UTC 日的零点。
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func FormatDate(t time.Time) string {
	return Day(t).Format(DateLayout)
}

func DayMillis(t time.Time) int64 {
	return Day(t).UnixMilli()
}

func DayFromMillis(ms int64) time.Time {
	return Day(time.UnixMilli(ms))
}

func NextDay(t time.Time) time.Time {
	return Day(t).AddDate(0, 0, 1)
}

// OrderRange 保证 start<=end，两端都归一化到日零点。
func OrderRange(start, end time.Time) (time.Time, time.Time) {
	s, e := Day(start), Day(end)
	if e.Before(s) {
		s, e = e, s
	}
	return s, e
}

// CalendarDays 返回 start 到 end（含）覆盖的自然日数量。
func CalendarDays(start, end time.Time) int {
	s, e := OrderRange(start, end)
	return int(e.Sub(s).Hours()/24) + 1
}
