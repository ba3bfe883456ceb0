package core

import "strings"

var billingPatterns = []string{
	"billing",
	"insufficient_quota",
	"insufficient balance",
	"credit balance",
	"exceeded your current quota",
	"quota exceeded",
	"usage limit",
	"spending limit",
	"payment required",
	"out of credits",
}

// DefaultBillingClassifier 基于响应体关键字的启发式判断。
// 402 直接视为账单问题；400/403/429 需要命中关键字。
func DefaultBillingClassifier(statusCode int, body string) bool {
	if statusCode == 402 {
		return true
	}
	switch statusCode {
	case 400, 403, 429:
	default:
		return false
	}

	lower := strings.ToLower(body)
	for _, p := range billingPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// MaskKey 对凭证脱敏，按字符截取避免切断多字节字符
func MaskKey(key string) string {
	r := []rune(key)
	if len(r) == 0 {
		return "***"
	}
	if len(r) <= 8 {
		if len(r) <= 4 {
			return string(r[:1]) + "***"
		}
		return string(r[:2]) + "***" + string(r[len(r)-2:])
	}
	// 显示前 6 位和后 4 位
	return string(r[:6]) + "..." + string(r[len(r)-4:])
}
