package enrich

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"qrlink/pkg/logging"

	"github.com/mileusna/useragent"
)

// Device types reported on scan events.
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
	DeviceOther   = "other"
)

// Facts are the derived location/device fields for one scan. Everything but
// DeviceType is nil when the corresponding lookup or parse degraded.
type Facts struct {
	Country    *string
	City       *string
	DeviceType string
	Browser    *string
	OS         *string
}

// Geolocator maps an IP address to a country and city. Implementations must
// honor ctx cancellation; empty return values mean the field is unknown.
type Geolocator interface {
	Locate(ctx context.Context, ip string) (country, city string, err error)
}

type Enricher struct {
	geo     Geolocator
	timeout time.Duration
	logger  *logging.Logger
}

func NewEnricher(geo Geolocator, timeout time.Duration, logger *logging.Logger) *Enricher {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &Enricher{geo: geo, timeout: timeout, logger: logger}
}

// Enrich never fails: every degraded lookup resolves to nil fields. The geo
// lookup is bounded by the configured timeout.
func (e *Enricher) Enrich(ctx context.Context, ip, userAgent string) Facts {
	facts := Facts{DeviceType: DeviceOther}

	if userAgent != "" {
		ua := useragent.Parse(userAgent)
		switch {
		case ua.Mobile:
			facts.DeviceType = DeviceMobile
		case ua.Tablet:
			facts.DeviceType = DeviceTablet
		case ua.Desktop:
			facts.DeviceType = DeviceDesktop
		}
		if ua.Name != "" {
			facts.Browser = &ua.Name
		}
		if ua.OS != "" {
			facts.OS = &ua.OS
		}
	}

	if country, city, ok := e.locate(ctx, ip); ok {
		if country != "" {
			facts.Country = &country
		}
		if city != "" {
			facts.City = &city
		}
	}

	return facts
}

func (e *Enricher) locate(ctx context.Context, ip string) (string, string, bool) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", "", false
	}
	// Private, loopback, and link-local addresses have no public location.
	if parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsLinkLocalUnicast() || parsed.IsUnspecified() {
		return "", "", false
	}

	lookupCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	country, city, err := e.geo.Locate(lookupCtx, ip)
	if err != nil {
		e.logger.LogEnrichmentDegraded(ctx, "geo lookup failed", err)
		return "", "", false
	}
	return country, city, true
}

// ClientIP extracts the originating client address from a request, honoring
// the first X-Forwarded-For hop when present.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
