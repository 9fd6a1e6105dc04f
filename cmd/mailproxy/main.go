// Command mailproxy wires the mailproxy auth-proxying core together:
// configuration, logging, metrics, and a ProxyInit entry point that mirrors
// spec.md §6's proxy_init(session, peer). The listening socket and the
// per-protocol pre-auth parser that collects login/passwd/smtp_from/tag/
// auth_method from an unauthenticated client are out of scope (spec.md
// §1) and are not reimplemented here — this binary is the thin shell a
// pre-auth layer would call into, generalized from the teacher's
// ProxyService (main.go), which owned full listening servers for a
// different, narrower job.
package main

import (
	"errors"
	"flag"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ctolnik/Proxy-Mail/internal/config"
	"github.com/ctolnik/Proxy-Mail/internal/logging"
	"github.com/ctolnik/Proxy-Mail/internal/metrics"
	"github.com/ctolnik/Proxy-Mail/internal/session"
	"github.com/ctolnik/Proxy-Mail/internal/tlsupgrade"
)

func main() {
	configPath := flag.String("config", "mailproxy.yaml", "path to configuration file")
	metricsAddr := flag.String("metrics", ":9110", "Prometheus metrics listen address")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logging.Error("failed to load configuration: %v", err)
		return
	}
	logging.SetLevel(cfg.LogLevel)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			logging.Error("metrics server stopped: %v", err)
		}
	}()

	svc := NewService(cfg, collector)
	logging.Info("mailproxy auth core ready; %d virtual server(s) configured", len(cfg.Servers))
	_ = svc

	select {}
}

// Service owns the configuration and metrics collector that every
// ProxySession a pre-auth layer builds shares, the same role the teacher's
// ProxyService plays for its listening servers — narrowed here to exactly
// what proxy_init needs rather than owning client-facing sockets itself.
type Service struct {
	cfg       *config.Config
	collector *metrics.Collector
}

// NewService constructs a Service bound to cfg and collector.
func NewService(cfg *config.Config, collector *metrics.Collector) *Service {
	return &Service{cfg: cfg, collector: collector}
}

// ProxyInit implements spec.md §6's proxy_init(session, peer): given the
// pre-auth parameters already collected by an external layer and the
// chosen backend address, dial upstream, optionally upgrade to TLS per
// the virtual server's policy, and run the session to completion. Any
// dial or handshake failure returns OutcomeInternalServerError without
// ever touching the client connection (spec.md §7 kind 1).
func (svc *Service) ProxyInit(p session.Params, peerAddr string) session.Outcome {
	vs := svc.cfg.GetServerByProtocol(p.Protocol.String())
	if vs == nil || !vs.Proxy.Enable {
		logging.Error("proxy not configured/enabled for protocol %s", p.Protocol)
		return session.OutcomeInternalServerError
	}

	logging.Info("connecting to upstream %s", peerAddr)
	conn, err := net.DialTimeout("tcp", peerAddr, time.Duration(vs.Proxy.AuthTimeout))
	if err != nil {
		logging.Error("failed to connect to upstream %s: %v", peerAddr, err)
		return session.OutcomeInternalServerError
	}

	upstreamConn := net.Conn(conn)
	if vs.Proxy.TLS.Enable {
		logging.Info("SSL handshaking with upstream %s", peerAddr)
		tlsConn, err := tlsupgrade.Upgrade(conn, vs.ServerName, tlsupgrade.VerifyMode(vs.Proxy.TLS.Verify))
		if err != nil {
			logging.Error("upstream TLS failed: %v", err)
			var verr *tlsupgrade.ErrVerificationFailed
			if errors.As(err, &verr) {
				svc.collector.TLSVerifyFailed()
			}
			conn.Close()
			return session.OutcomeInternalServerError
		}
		upstreamConn = tlsConn
	}

	p.UpstreamConn = upstreamConn
	p.ServerName = vs.ServerName
	p.XClient = vs.Proxy.XClientEnabled()
	p.BufferSize = vs.Proxy.Buffer
	p.AuthTimeout = time.Duration(vs.Proxy.AuthTimeout)
	p.RelayTimeout = time.Duration(vs.Proxy.Timeout)
	p.PassErrorMessage = vs.Proxy.PassErrorMessage
	p.Metrics = svc.collector

	return session.New(p).Run()
}
