package webhook

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultCertTimeout  = 10 * time.Second
	defaultCertCacheTTL = time.Hour
)

type cachedKey struct {
	key       *rsa.PublicKey
	fetchedAt time.Time
}

// HTTPCertSource fetches provider certificates by cert id and caches the
// parsed public keys with a TTL, so repeated deliveries do not refetch.
type HTTPCertSource struct {
	baseURL string
	client  *http.Client
	ttl     time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedKey
}

func NewHTTPCertSource(baseURL string, timeout, ttl time.Duration) *HTTPCertSource {
	if timeout <= 0 {
		timeout = defaultCertTimeout
	}
	if ttl <= 0 {
		ttl = defaultCertCacheTTL
	}
	return &HTTPCertSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		ttl:     ttl,
		now:     time.Now,
		cache:   make(map[string]cachedKey),
	}
}

func (s *HTTPCertSource) PublicKey(ctx context.Context, certID string) (*rsa.PublicKey, error) {
	s.mu.RLock()
	cached, ok := s.cache[certID]
	s.mu.RUnlock()
	if ok && s.now().Sub(cached.fetchedAt) < s.ttl {
		return cached.key, nil
	}

	key, err := s.fetch(ctx, certID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[certID] = cachedKey{key: key, fetchedAt: s.now()}
	s.mu.Unlock()

	return key, nil
}

func (s *HTTPCertSource) fetch(ctx context.Context, certID string) (*rsa.PublicKey, error) {
	url := s.baseURL + "/" + certID

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating certificate request")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching certificate %s", certID)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("certificate endpoint returned %s for %s", resp.Status, certID)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading certificate response")
	}

	return parsePublicKey(body, certID)
}

func parsePublicKey(pemBytes []byte, certID string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("certificate %s is not PEM encoded", certID)
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing certificate %s", certID)
	}

	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certificate %s does not hold an RSA public key", certID)
	}
	return key, nil
}
