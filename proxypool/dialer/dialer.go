// Package dialer 按代理协议构造出站连接：http 走 CONNECT/转发，
// socks5 使用 golang.org/x/net/proxy，socks4 使用手写握手。
package dialer

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"crawlpool/proxypool/model"

	"golang.org/x/net/proxy"
)

// ContextDialer 返回经由 socks 代理拨号的 dialer。http 代理没有 dialer，
// 由 http.Transport.Proxy 处理，此时返回 (nil, nil)。
func ContextDialer(p *model.Candidate, timeout time.Duration) (proxy.ContextDialer, error) {
	forward := &net.Dialer{Timeout: timeout}
	switch p.Protocol {
	case model.ProtocolSOCKS5:
		d, err := proxy.SOCKS5("tcp", p.Address(), nil, forward)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("SOCKS5 dialer does not support context")
		}
		return cd, nil
	case model.ProtocolSOCKS4:
		return &socks4Dialer{proxyAddr: p.Address(), forward: forward, timeout: timeout}, nil
	case model.ProtocolHTTP:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported proxy protocol %q", p.Protocol)
	}
}

// NewTransport 为单个代理构造一次性 http.Transport（禁用 keep-alive）。
// p 为 nil 时直连。TLS 证书照常校验。
func NewTransport(p *model.Candidate, timeout time.Duration) (*http.Transport, error) {
	base := &net.Dialer{Timeout: timeout}
	transport := &http.Transport{
		DialContext:           base.DialContext,
		DisableKeepAlives:     true,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if p == nil {
		return transport, nil
	}

	if p.Protocol == model.ProtocolHTTP {
		transport.Proxy = http.ProxyURL(&url.URL{Scheme: "http", Host: p.Address()})
		return transport, nil
	}

	d, err := ContextDialer(p, timeout)
	if err != nil {
		return nil, err
	}
	transport.DialContext = d.DialContext
	return transport, nil
}
