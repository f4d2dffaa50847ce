package exchange

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrNotConfigured 表示缺少 API 凭证，调用在发起网络请求前直接短路。
var ErrNotConfigured = errors.New("exchange: 未配置 API 凭证")

// VenueError 表示交易所在响应包络的 error 数组中返回的业务错误。
type VenueError struct {
	Codes []string
}

func (e *VenueError) Error() string {
	return "exchange: 交易所返回错误: " + strings.Join(e.Codes, "; ")
}

// IsAuthError 判断是否为凭证/权限类错误，此类错误不可重试。
func IsAuthError(err error) bool {
	var venueErr *VenueError
	if !errors.As(err, &venueErr) {
		return false
	}
	for _, code := range venueErr.Codes {
		if strings.HasPrefix(code, "EAPI:") || strings.HasPrefix(code, "EGeneral:Permission") {
			return true
		}
	}
	return false
}

// IsTimeout 判断是否为超时类错误。
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// 拒单类错误码前缀：资金不足、参数非法、交易规则限制等，
// 属于预期内可恢复结果，映射为 OrderResult.Accepted=false。
var rejectionPrefixes = []string{"EOrder:", "EFunds:", "ETrade:"}

func isRejection(err *VenueError) bool {
	if err == nil || len(err.Codes) == 0 {
		return false
	}
	for _, code := range err.Codes {
		matched := false
		for _, prefix := range rejectionPrefixes {
			if strings.HasPrefix(code, prefix) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
