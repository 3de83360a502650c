package executor

import (
	"context"
	"strings"

	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
)

// FailureKind classifies order rejections for retry handling.
type FailureKind int

const (
	// FailureTransient rejections resolve on their own (balance settles,
	// rate limit window passes) and are retried without operator action.
	FailureTransient FailureKind = iota
	// FailurePermanent rejections need operator intervention.
	FailurePermanent
)

// binance API error codes with a known classification
const (
	binanceCodeRateLimit           = -1003
	binanceCodeInvalidQuantity     = -1013
	binanceCodeInvalidParam        = -1102
	binanceCodeInsufficientBalance = -2010
)

var transientMarkers = []string{
	"insufficient funds",
	"insufficient balance",
	"rate limit",
	"too many requests",
	"timeout",
	"timed out",
	"connection",
	"temporarily",
	"service unavailable",
}

var permanentMarkers = []string{
	"invalid",
	"not supported",
	"permission",
	"forbidden",
	"market is closed",
}

// Classify decides whether an order failure is worth retrying. Unknown
// failures count as transient: the retry budget bounds them, while a wrong
// permanent verdict would strand the bot waiting for an operator.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureTransient
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return FailureTransient
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case binanceCodeRateLimit, binanceCodeInsufficientBalance:
			return FailureTransient
		case binanceCodeInvalidQuantity, binanceCodeInvalidParam:
			return FailurePermanent
		}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return FailureTransient
		}
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return FailurePermanent
		}
	}

	return FailureTransient
}
