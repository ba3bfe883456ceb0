package core

import "time"

// Clock 时间源抽象，便于测试中固定"当前时间"
type Clock interface {
	Now() time.Time
}

// RealClock 直接使用系统时间
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

func nowMillis(c Clock) int64 {
	return c.Now().UnixMilli()
}

// nextLocalMidnight 返回 t 所在时区的下一个午夜 (epoch 毫秒)
func nextLocalMidnight(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location()).UnixMilli()
}

// DateKey dailyRequests 使用的日期键 (本地日期)
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
