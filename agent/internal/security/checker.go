package security

import (
	"context"
	"crypto/tls"
	"math"
	"net"
	"net/url"
	"time"

	"github.com/calmsignal/calmsignal/agent/internal/config"
)

// Certificate states reported in CertStatus.Status.
const (
	StatusValid       = "valid"
	StatusExpiring    = "expiring"
	StatusExpired     = "expired"
	StatusUnreachable = "unreachable"
)

const (
	dialTimeout    = 10 * time.Second
	expiringWithin = 30 // days
)

// CertStatus describes the leaf certificate presented by a device endpoint.
type CertStatus struct {
	SubjectID string
	Endpoint  string
	Status    string
	Issuer    string
	NotAfter  time.Time
	DaysLeft  int
	Err       error
}

// OK reports whether the certificate needs no attention.
func (c *CertStatus) OK() bool { return c.Status == StatusValid }

// Check dials the TLS endpoint of dev and classifies its leaf certificate
// relative to now.
//
// Returns nil for non-HTTPS endpoints.
func Check(ctx context.Context, dev config.Device, now time.Time) *CertStatus {
	u, err := url.Parse(dev.Endpoint)
	if err != nil || u.Scheme != "https" {
		return nil
	}

	cs := &CertStatus{SubjectID: dev.SubjectID, Endpoint: dev.Endpoint}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	// Verification is skipped so an expired certificate can still be read.
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config:    &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
	}

	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		cs.Status = StatusUnreachable
		cs.Err = err
		return cs
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		cs.Status = StatusUnreachable
		return cs
	}

	leaf := peerCerts[0]
	daysLeft := leaf.NotAfter.Sub(now).Hours() / 24

	cs.NotAfter = leaf.NotAfter.UTC()
	cs.Issuer = leaf.Issuer.CommonName
	cs.DaysLeft = int(math.Floor(daysLeft))

	switch {
	case daysLeft <= 0:
		cs.Status = StatusExpired
	case daysLeft <= expiringWithin:
		cs.Status = StatusExpiring
	default:
		cs.Status = StatusValid
	}
	return cs
}
