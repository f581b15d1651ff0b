package providers

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/url"

	"github.com/dghubble/oauth1"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/httpclient"
	"github.com/Ramsey-B/fern/pkg/models"
)

// SignedClient returns a copy of client that signs every request with the
// consumer in config and the access token.
func SignedClient(ctx context.Context, client *httpclient.Client, config *oauth1.Config, token Token) *httpclient.Client {
	base := context.WithValue(ctx, oauth1.HTTPClient, client.HTTPClient())
	signed := config.Client(base, oauth1.NewToken(token.Token, token.Secret.Reveal()))
	return client.WithTransport(signed.Transport)
}

// ParseRSAPrivateKey parses a PEM encoded PKCS#1 or PKCS#8 RSA key.
func ParseRSAPrivateKey(key models.Secret) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(key.Reveal()))
	if block == nil {
		return nil, fmt.Errorf("private key is not PEM encoded")
	}

	if parsed, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return parsed, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, not RSA", parsed)
	}
	return rsaKey, nil
}

// ValidateHost requires an absolute http(s) URL.
func ValidateHost(provider string, host string) error {
	if host == "" {
		return ferrors.New(ferrors.InvalidConfig, "host is required").WithField("host").WithProvider(provider)
	}
	u, err := url.Parse(host)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ferrors.New(ferrors.InvalidConfig, "host must be an absolute http(s) URL").WithField("host").WithProvider(provider)
	}
	return nil
}

// Coalesce returns the first non-empty value.
func Coalesce[T ~string](values ...T) T {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
