package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/gorilla/websocket"
)

var (
	// ErrAuthentication 表示凭证无效，等待不会恢复，上层必须立即停止。
	ErrAuthentication = errors.New("exchange: authentication failed")
	// ErrNetwork 表示连接中断或超时，可退避重试。
	ErrNetwork = errors.New("exchange: network failure")
	// ErrRejected 表示交易所拒绝了本次调用，可有限次重试。
	ErrRejected = errors.New("exchange: request rejected")
	// ErrMalformed 表示推送数据格式异常，丢弃即可。
	ErrMalformed = errors.New("exchange: malformed payload")
	// ErrMaintenance 表示交易所处于维护状态，需要上层跳过交易。
	ErrMaintenance = errors.New("exchange on maintenance")
)

// Kind 为错误分类。
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthentication
	KindNetwork
	KindRejected
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindNetwork:
		return "network"
	case KindRejected:
		return "rejected"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Classify 将任意错误归入四类之一。
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	switch {
	case errors.Is(err, ErrAuthentication):
		return KindAuthentication
	case errors.Is(err, ErrNetwork), errors.Is(err, ErrMaintenance):
		return KindNetwork
	case errors.Is(err, ErrRejected):
		return KindRejected
	case errors.Is(err, ErrMalformed):
		return KindMalformed
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.AuthenticationErrorErrType,
			ccxt.PermissionDeniedErrType,
			ccxt.AccountSuspendedErrType:
			return KindAuthentication
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.OnMaintenanceErrType:
			return KindNetwork
		case ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return KindMalformed
		default:
			return KindRejected
		}
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return KindNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}

	return KindUnknown
}

// IsRetryable 判断错误是否可重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch Classify(err) {
	case KindNetwork, KindRejected:
		return true
	default:
		return false
	}
}

// IsAuthentication 判断是否为致命的认证错误。
func IsAuthentication(err error) bool {
	return Classify(err) == KindAuthentication
}

// Normalize 将底层错误包装为带分类哨兵的错误，便于上层 errors.Is 判断。
func Normalize(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var sentinel error
	switch Classify(err) {
	case KindAuthentication:
		sentinel = ErrAuthentication
	case KindNetwork:
		sentinel = ErrNetwork
		var ccxtErr *ccxt.Error
		if errors.As(err, &ccxtErr) && ccxtErr.Type == ccxt.OnMaintenanceErrType {
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%s: %w: %s", operation, ErrMaintenance, message)
		}
	case KindRejected:
		sentinel = ErrRejected
	case KindMalformed:
		sentinel = ErrMalformed
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}

	if errors.Is(err, sentinel) {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return fmt.Errorf("%s: %w: %w", operation, sentinel, err)
}
