package handshake

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/luciancaetano/kephasws"
)

// ParseURI validates a WebSocket target URI. The result always carries an
// explicit port: 80 for ws and 443 for wss when none is given.
func ParseURI(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, kephasws.NewError(kephasws.KindInvalidArgument, "uri: "+kephasws.ErrMsgMustNotBeNullOrEmpty)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, kephasws.WrapError(kephasws.KindNotAnAbsoluteURI, kephasws.ErrMsgNotAnAbsoluteURI, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, kephasws.NewError(kephasws.KindNotAnAbsoluteURI, kephasws.ErrMsgNotAnAbsoluteURI)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "ws" && scheme != "wss" {
		return nil, kephasws.NewError(kephasws.KindInvalidScheme, kephasws.ErrMsgInvalidScheme+u.Scheme)
	}
	u.Scheme = scheme

	if u.Fragment != "" || strings.Contains(raw, "#") {
		return nil, kephasws.NewError(kephasws.KindMustNotContainFragment, kephasws.ErrMsgMustNotContainFragment)
	}

	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(defaultPort(scheme)))
	}
	return u, nil
}

// Endpoint returns the dial target of a URI returned by ParseURI.
func Endpoint(u *url.URL) (host string, port int, useTLS bool, err error) {
	port, err = strconv.Atoi(u.Port())
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, false, kephasws.NewError(kephasws.KindInvalidArgument, "invalid port: "+u.Port())
	}
	return u.Hostname(), port, u.Scheme == "wss", nil
}

func defaultPort(scheme string) int {
	if scheme == "wss" {
		return 443
	}
	return 80
}

// hostHeader returns host[:port], omitting the default port of the scheme.
func hostHeader(u *url.URL) string {
	if u.Port() == strconv.Itoa(defaultPort(u.Scheme)) {
		return bracketIPv6(u.Hostname())
	}
	return u.Host
}

// origin returns the HTTP origin matching a ws/wss URI.
func origin(u *url.URL) string {
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + hostHeader(u)
}

func bracketIPv6(host string) string {
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}
