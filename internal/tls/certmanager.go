package tls

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/caddyserver/certmagic"
)

// Config selects the domains to serve and the ACME account.
type Config struct {
	Domains    []string
	Email      string
	Production bool
}

// CertManager obtains and renews certificates for the configured domains
// via certmagic.
type CertManager struct {
	domains map[string]struct{}
	list    []string
	logger  *slog.Logger
	cfg     *certmagic.Config
}

// NewCertManager creates a CertManager. Outside production it uses the
// Let's Encrypt staging CA.
func NewCertManager(c Config, logger *slog.Logger) *CertManager {
	certmagic.DefaultACME.Email = c.Email
	certmagic.DefaultACME.Agreed = true
	if !c.Production {
		certmagic.DefaultACME.CA = certmagic.LetsEncryptStagingCA
	}

	cm := &CertManager{
		domains: make(map[string]struct{}, len(c.Domains)),
		logger:  logger,
		cfg:     certmagic.NewDefault(),
	}
	for _, d := range c.Domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if _, dup := cm.domains[d]; !dup {
			cm.domains[d] = struct{}{}
			cm.list = append(cm.list, d)
		}
	}
	cm.cfg.OnDemand = &certmagic.OnDemandConfig{DecisionFunc: cm.allowCert}
	return cm
}

// Domains returns the managed domain names.
func (cm *CertManager) Domains() []string { return append([]string(nil), cm.list...) }

// allowCert refuses on-demand issuance for names outside the configured set.
func (cm *CertManager) allowCert(_ context.Context, name string) error {
	if _, ok := cm.domains[strings.ToLower(name)]; !ok {
		return fmt.Errorf("unknown domain: %s", name)
	}
	return nil
}

// Serve pre-manages the configured domains and serves srv over TLS on the
// HTTPS port until srv is shut down.
func (cm *CertManager) Serve(ctx context.Context, srv *http.Server) error {
	if len(cm.list) == 0 {
		return fmt.Errorf("no TLS domains configured")
	}
	cm.logger.Info("starting TLS server", "domains", cm.list)

	if err := cm.cfg.ManageSync(ctx, cm.list); err != nil {
		return fmt.Errorf("manage domains: %w", err)
	}

	ln, err := tls.Listen("tcp", fmt.Sprintf(":%d", certmagic.HTTPSPort), cm.cfg.TLSConfig())
	if err != nil {
		return fmt.Errorf("tls listen: %w", err)
	}

	cm.logger.Info("serving HTTPS", "port", certmagic.HTTPSPort)
	return srv.Serve(ln)
}
