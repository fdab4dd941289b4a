package server

import (
	"fmt"
	"net/http"
	"strings"
)

// CSPConfig holds Content Security Policy configuration
type CSPConfig struct {
	DefaultSrc     []string
	StyleSrc       []string
	ImgSrc         []string
	FontSrc        []string
	ObjectSrc      []string
	FrameAncestors []string
	BaseURI        []string
}

// SecurityConfig holds the response headers added to every file.
type SecurityConfig struct {
	CSP                 *CSPConfig
	XFrameOptions       string
	XContentTypeNoSniff bool
	ReferrerPolicy      string
}

// DefaultSecurityConfig allows rendered pages to load their own stylesheet,
// images and fonts and nothing else. Pages run no scripts.
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		CSP: &CSPConfig{
			DefaultSrc:     []string{"'self'"},
			StyleSrc:       []string{"'self'", "'unsafe-inline'"},
			ImgSrc:         []string{"'self'", "data:"},
			FontSrc:        []string{"'self'", "data:"},
			ObjectSrc:      []string{"'none'"},
			FrameAncestors: []string{"'self'"},
			BaseURI:        []string{"'self'"},
		},
		XFrameOptions:       "SAMEORIGIN",
		XContentTypeNoSniff: true,
		ReferrerPolicy:      "no-referrer",
	}
}

// SecurityMiddleware sets the configured security headers.
func SecurityMiddleware(secConfig *SecurityConfig) func(http.Handler) http.Handler {
	if secConfig == nil {
		secConfig = DefaultSecurityConfig()
	}
	csp := ""
	if secConfig.CSP != nil {
		csp = buildCSPHeader(secConfig.CSP)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if csp != "" {
				h.Set("Content-Security-Policy", csp)
			}
			if secConfig.XFrameOptions != "" {
				h.Set("X-Frame-Options", secConfig.XFrameOptions)
			}
			if secConfig.XContentTypeNoSniff {
				h.Set("X-Content-Type-Options", "nosniff")
			}
			if secConfig.ReferrerPolicy != "" {
				h.Set("Referrer-Policy", secConfig.ReferrerPolicy)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// buildCSPHeader constructs the Content-Security-Policy header value
func buildCSPHeader(csp *CSPConfig) string {
	var directives []string

	addDirective := func(name string, values []string) {
		if len(values) > 0 {
			directives = append(directives, fmt.Sprintf("%s %s", name, strings.Join(values, " ")))
		}
	}

	addDirective("default-src", csp.DefaultSrc)
	addDirective("style-src", csp.StyleSrc)
	addDirective("img-src", csp.ImgSrc)
	addDirective("font-src", csp.FontSrc)
	addDirective("object-src", csp.ObjectSrc)
	addDirective("frame-ancestors", csp.FrameAncestors)
	addDirective("base-uri", csp.BaseURI)

	return strings.Join(directives, "; ")
}
