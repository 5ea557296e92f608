package ecpay

import (
	"strconv"
	"strings"
	"time"
)

const (
	attemptIDMaxLen  = 20
	attemptBaseLen   = 14
	attemptSuffixLen = 6

	// 36^6, the number of distinct suffixes.
	suffixSpace = 2176782336
)

// NewAttemptID derives a MerchantTradeNo for one payment attempt. The gateway
// rejects a MerchantTradeNo it has seen before, so each attempt needs a fresh
// id: the order number (cut to 14 chars when longer) plus a 6 char suffix
// from the millisecond clock.
func NewAttemptID(orderNumber string, now time.Time) string {
	base := orderNumber
	if len(base) >= attemptBaseLen {
		base = base[:attemptBaseLen]
	}
	id := base + timeSuffix(now)
	if len(id) > attemptIDMaxLen {
		id = id[:attemptIDMaxLen]
	}
	return id
}

func timeSuffix(t time.Time) string {
	s := strings.ToUpper(strconv.FormatInt(t.UnixMilli()%suffixSpace, 36))
	if len(s) < attemptSuffixLen {
		s = strings.Repeat("0", attemptSuffixLen-len(s)) + s
	}
	return s
}
