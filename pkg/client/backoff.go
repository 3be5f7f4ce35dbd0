package client

import "time"

// Backoff 指数退避：Base·2^attempt，上限 Max
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay 返回第 attempt 次重试（从 0 开始）前的等待时间
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.Base
	for i := 0; i < attempt; i++ {
		if d >= b.Max || d > b.Max/2 {
			return b.Max
		}
		d *= 2
	}
	if d > b.Max {
		return b.Max
	}
	return d
}
