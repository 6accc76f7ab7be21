package serve

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gigmarket/chat-service/internal/config"
	"github.com/soheilhy/cmux"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// RunningServers is one TCP port serving a handler over plaintext, TLS or both.
type RunningServers struct {
	Addr            net.Addr
	Port            int
	HTTPServerPlain *http.Server
	HTTPServerTLS   *http.Server
	Close           func(ctx context.Context) error
}

// StartSinglePortHTTP listens on cfg.Port and splits connections by protocol. TLS
// handshakes go to the TLS server; everything else is served as HTTP/1.1 (websocket
// upgrades included) or h2c.
func StartSinglePortHTTP(_ context.Context, cfg config.ListenerConfig, handler http.Handler) (*RunningServers, error) {
	if !cfg.EnablePlainText && !cfg.EnableTLS {
		return nil, errors.New("listener: enable plaintext, tls or both")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}

	// Load the certificate before binding so a bad cert never leaves a port open.
	var cert tls.Certificate
	if cfg.EnableTLS {
		var err error
		if cert, err = loadServerCertificate(cfg.TLSCertFile, cfg.TLSKeyFile); err != nil {
			return nil, err
		}
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("listener: %w", err)
	}
	mux := cmux.New(lis)
	running := &RunningServers{Addr: lis.Addr()}
	if tcp, ok := lis.Addr().(*net.TCPAddr); ok {
		running.Port = tcp.Port
	}

	// Matchers are evaluated in registration order; TLS must precede the catch-all.
	if cfg.EnableTLS {
		running.HTTPServerTLS = newHTTPServer(handler, cfg.ReadHeaderTimeout)
		tlsLis := tls.NewListener(mux.Match(cmux.TLS()), &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"h2", "http/1.1"},
			MinVersion:   tls.VersionTLS12,
		})
		go serve("tls", running.HTTPServerTLS, tlsLis)
	}
	if cfg.EnablePlainText {
		running.HTTPServerPlain = newHTTPServer(h2c.NewHandler(handler, &http2.Server{}), cfg.ReadHeaderTimeout)
		go serve("plaintext", running.HTTPServerPlain, mux.Match(cmux.Any()))
	}
	go func() {
		if err := mux.Serve(); err != nil && !isClosed(err) {
			log.Error("Connection mux stopped", "addr", lis.Addr(), "err", err)
		}
	}()

	var once sync.Once
	running.Close = func(ctx context.Context) error {
		var errs []error
		once.Do(func() {
			for _, srv := range []*http.Server{running.HTTPServerPlain, running.HTTPServerTLS} {
				if srv == nil {
					continue
				}
				if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
					errs = append(errs, err)
				}
			}
			if err := lis.Close(); err != nil && !isClosed(err) {
				errs = append(errs, err)
			}
		})
		return errors.Join(errs...)
	}
	return running, nil
}

func newHTTPServer(handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{Handler: handler, ReadHeaderTimeout: readHeaderTimeout}
}

func serve(name string, srv *http.Server, lis net.Listener) {
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) && !isClosed(err) {
		log.Error("HTTP server stopped", "listener", name, "err", err)
	}
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, cmux.ErrListenerClosed) ||
		strings.Contains(err.Error(), "use of closed network connection")
}

// loadServerCertificate reads the configured key pair, or mints a throwaway
// self-signed certificate for localhost when none is configured.
func loadServerCertificate(certFile, keyFile string) (tls.Certificate, error) {
	if strings.TrimSpace(certFile) == "" || strings.TrimSpace(keyFile) == "" {
		log.Warn("No TLS key pair configured; using a self-signed localhost certificate")
		return selfSignedCertificate(time.Now())
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("load tls key pair: %w", err)
	}
	return cert, nil
}

func selfSignedCertificate(now time.Time) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("self-signed key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("self-signed serial: %w", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "localhost", Organization: []string{"chat-service"}},
		NotBefore:             now.Add(-5 * time.Minute),
		NotAfter:              now.AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("self-signed certificate: %w", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: tmpl}, nil
}
