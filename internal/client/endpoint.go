package client

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// EndpointURL derives the relay socket URL from a page origin: https maps to
// wss, anything else to ws, the host is kept, the port is fixed and the path
// is dropped.
func EndpointURL(baseURL string, port int) (string, error) {
	raw := strings.TrimSpace(baseURL)
	if raw == "" {
		return "", fmt.Errorf("base url is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("base url %q has no host", baseURL)
	}

	scheme := "ws"
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		scheme = "wss"
	}
	if port <= 0 {
		port = DefaultPort
	}
	return (&url.URL{Scheme: scheme, Host: net.JoinHostPort(host, strconv.Itoa(port)), Path: "/"}).String(), nil
}
