package fetch

import (
	"strconv"
	"strings"
	"time"
)

// CacheControl holds the Cache-Control directives relevant to caching
// upstream responses.
type CacheControl struct {
	MaxAge  int
	SMaxAge int
	NoCache bool
	NoStore bool
	Private bool
}

// ParseCacheControl parses a Cache-Control header value. Unknown directives
// are ignored.
func ParseCacheControl(header string) CacheControl {
	var cc CacheControl
	for _, directive := range strings.Split(header, ",") {
		directive = strings.TrimSpace(strings.ToLower(directive))
		name, value, _ := strings.Cut(directive, "=")

		switch name {
		case "max-age":
			cc.MaxAge = seconds(value)
		case "s-maxage":
			cc.SMaxAge = seconds(value)
		case "no-cache":
			cc.NoCache = true
		case "no-store":
			cc.NoStore = true
		case "private":
			cc.Private = true
		}
	}
	return cc
}

func seconds(value string) int {
	n, err := strconv.Atoi(strings.Trim(value, `"`))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// TTL returns how long a response may be reused, or zero when it must not be
// cached. A shared cache prefers s-maxage over max-age.
func (cc CacheControl) TTL() time.Duration {
	if cc.NoStore || cc.NoCache || cc.Private {
		return 0
	}
	if cc.SMaxAge > 0 {
		return time.Duration(cc.SMaxAge) * time.Second
	}
	if cc.MaxAge > 0 {
		return time.Duration(cc.MaxAge) * time.Second
	}
	return 0
}
