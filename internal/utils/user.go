package utils

import (
	"time"
)

// AccountAgeDaysAt 计算账号截至 now 的注册天数
func AccountAgeDaysAt(createdAt, now time.Time) int {
	if createdAt.IsZero() || now.Before(createdAt) {
		return 0
	}
	return int(now.Sub(createdAt).Hours() / 24)
}
