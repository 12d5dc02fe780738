package geo

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
	"github.com/sirupsen/logrus"
)

// ErrUnknownLocation is returned when an IP cannot be resolved to a
// country. Callers treat this as "unknown" and carry on.
var ErrUnknownLocation = errors.New("geo: unknown location")

// Resolver maps an IP address to a coarse location. Resolution is
// best-effort; a miss must never fail the surrounding detector.
//
//go:generate mockery --name=Resolver --dir=. --output=./mocks --filename=resolver_mock.go --case=underscore --with-expecter
type Resolver interface {
	Country(ctx context.Context, ip string) (string, error)
}

// maxmindResolver resolves countries from a local MaxMind GeoLite2 database.
type maxmindResolver struct {
	db     *geoip2.Reader
	logger logrus.FieldLogger
}

func NewMaxMindResolver(databasePath string, logger logrus.FieldLogger) (Resolver, error) {
	db, err := geoip2.Open(databasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database: %w", err)
	}
	logger.WithField("path", databasePath).Info("geoip database loaded")
	return &maxmindResolver{db: db, logger: logger}, nil
}

func (r *maxmindResolver) Country(ctx context.Context, ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", ErrUnknownLocation
	}
	record, err := r.db.Country(parsed)
	if err != nil {
		r.logger.WithError(err).WithField("ip", ip).Debug("geoip lookup failed")
		return "", ErrUnknownLocation
	}
	if record.Country.IsoCode == "" {
		return "", ErrUnknownLocation
	}
	return record.Country.IsoCode, nil
}

// noopResolver is used when no GeoIP database is configured; every lookup
// is an unknown location, which disables the geographic detector without
// failing the pipeline.
type noopResolver struct{}

func NewNoopResolver() Resolver {
	return noopResolver{}
}

func (noopResolver) Country(ctx context.Context, ip string) (string, error) {
	return "", ErrUnknownLocation
}
