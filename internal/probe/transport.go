package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	tls "github.com/refraction-networking/utls"

	"github.com/masahif/pageprobe/internal/config"
)

// chromeH1Spec is a Chrome ClientHello with ALPN limited to http/1.1,
// since http.Transport cannot speak h2 over a utls connection.
var chromeH1Spec *tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = &spec
}

// NewTransport returns the round tripper for the named transport kind.
// The standard kind returns nil so the client keeps its default transport.
func NewTransport(kind string) (http.RoundTripper, error) {
	switch kind {
	case "", config.TransportStandard:
		return nil, nil
	case config.TransportChromeTLS:
		if chromeH1Spec == nil {
			return nil, fmt.Errorf("chrome TLS fingerprint unavailable")
		}
		return newChromeTLSTransport(), nil
	case config.TransportCloudflare:
		base := http.DefaultTransport.(*http.Transport).Clone()
		return cloudflarebp.AddCloudFlareByPass(base), nil
	default:
		return nil, fmt.Errorf("%w: %s", config.ErrUnknownTransport, kind)
	}
}

func newChromeTLSTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 10 * time.Second}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}

			host, _, _ := net.SplitHostPort(addr)
			tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
			if err := tlsConn.ApplyPreset(chromeH1Spec); err != nil {
				conn.Close()
				return nil, fmt.Errorf("apply tls spec: %w", err)
			}
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
		ForceAttemptHTTP2:   false,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}
