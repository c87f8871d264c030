package ratelimit

import (
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	realclientip "github.com/realclientip/realclientip-go"
	"github.com/tokenprinter/powfaucet/pkg/common"
	"github.com/tokenprinter/powfaucet/pkg/leakybucket"
)

const (
	// number of simultaneous different clients before forcing cleanup
	DefaultMaxBuckets = 1_000_000
)

func clientIPAddr(strategy realclientip.Strategy, r *http.Request) netip.Addr {
	ipStr := clientIP(strategy, r)
	if len(ipStr) == 0 {
		slog.WarnContext(r.Context(), "Empty IP address used for rate limiting")
		return netip.Addr{}
	}

	addr, err := netip.ParseAddr(ipStr)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to parse netip.Addr", "ip", ipStr, common.ErrAttr(err))
		return netip.Addr{}
	}

	return addr
}

type IPAddrBuckets = leakybucket.Manager[netip.Addr]

func NewIPAddrBuckets(maxBuckets int, limits leakybucket.Limits) *IPAddrBuckets {
	buckets := leakybucket.NewManager[netip.Addr](maxBuckets, limits)

	// requests without a usable IP share one small bucket, which usually
	// means a proxy misconfiguration on our side
	buckets.SetDefaultBucket(leakybucket.NewBucket(netip.Addr{}, leakybucket.Limits{Capacity: 1, LeakInterval: limits.LeakInterval}, time.Now()))

	return buckets
}

func ipStrategy(header string) realclientip.Strategy {
	if len(header) > 0 {
		return realclientip.Must(realclientip.NewSingleIPHeaderStrategy(header))
	}

	return realclientip.NewChainStrategy(
		realclientip.Must(realclientip.NewRightmostNonPrivateStrategy("X-Forwarded-For")),
		realclientip.RemoteAddrStrategy{})
}

// NewIPAddrRateLimiter limits by client IP. If header is set, the IP is
// taken from it (e.g. CF-Connecting-IP), otherwise from X-Forwarded-For
// falling back to the remote address.
func NewIPAddrRateLimiter(name, header string, buckets *IPAddrBuckets) *httpRateLimiter[netip.Addr] {
	strategy := ipStrategy(header)

	limiter := &httpRateLimiter[netip.Addr]{
		name:            strings.ToLower(name),
		rejectedHandler: defaultRejectedHandler,
		buckets:         buckets,
		keyFunc:         func(r *http.Request) netip.Addr { return clientIPAddr(strategy, r) },
		newBuckets: func(limits leakybucket.Limits) *IPAddrBuckets {
			return NewIPAddrBuckets(DefaultMaxBuckets, limits)
		},
	}

	limiter.startCleanup()

	return limiter
}
