package utils

import (
	"math"
)

// EngagementConfig 互动分权重
type EngagementConfig struct {
	WeightLike     float64 // 1.0
	WeightRecast   float64 // 3.0
	WeightReply    float64 // 5.0
	FollowerDamper float64 // 粉丝加成的除数 (10)
}

var DefaultEngagementConfig = EngagementConfig{
	WeightLike:     1.0,
	WeightRecast:   3.0,
	WeightReply:    5.0,
	FollowerDamper: 10.0,
}

// CalculateEngagementScore 使用默认权重计算一条 cast 的互动分
func CalculateEngagementScore(likes, recasts, replies, followers int) float64 {
	return DefaultEngagementConfig.Score(likes, recasts, replies, followers)
}

// Score computes round((likes*wl + recasts*wr + replies*wp) * (1 + log10(max(followers,1))/damper), 2).
func (c EngagementConfig) Score(likes, recasts, replies, followers int) float64 {
	// 1. 加权互动值，负数按 0 处理
	base := float64(clampZero(likes))*c.WeightLike +
		float64(clampZero(recasts))*c.WeightRecast +
		float64(clampZero(replies))*c.WeightReply

	// 2. 粉丝加成，followers=0 与 followers=1 等价
	if followers < 1 {
		followers = 1
	}
	multiplier := 1.0
	if c.FollowerDamper > 0 {
		multiplier += math.Log10(float64(followers)) / c.FollowerDamper
	}

	return RoundTo(base*multiplier, 2)
}

// RoundTo rounds v to the given number of decimal places.
func RoundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func clampZero(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
