package mitmtls

import (
	"net/url"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/crossfeed-proxy/crossfeed-core/pkg/httperr"
)

// CertCache is a bounded LRU mapping host -> LeafCertificate, with an
// optional on-disk spill directory. All mutation goes through a
// single mutex; disk I/O happens outside the lock —
// callers receive cheap clones of the PEM blobs, never a reference
// into the cache's own storage.
type CertCache struct {
	mu       sync.Mutex
	lru      *lru.Cache[string, LeafCertificate]
	diskPath string
}

// NewCertCache builds a cache with the given capacity and no disk
// spill.
func NewCertCache(capacity int) *CertCache {
	c, err := lru.New[string, LeafCertificate](capacity)
	if err != nil {
		// Only returns an error for capacity <= 0; the orchestrator
		// always passes a positive constant, so fall back rather than
		// panic on a misconfigured value.
		c, _ = lru.New[string, LeafCertificate](1)
	}
	return &CertCache{lru: c}
}

// NewCertCacheWithDisk builds a cache that additionally consults
// diskPath on a miss. Insert does not write to disk; Persist writes
// a leaf to diskPath.
func NewCertCacheWithDisk(capacity int, diskPath string) *CertCache {
	cache := NewCertCache(capacity)
	cache.diskPath = diskPath
	return cache
}

// Get looks up host, bumping its LRU position on a hit. On a miss, if
// a disk path is configured, it attempts to load {host}.pem/.key
// before reporting a miss.
func (c *CertCache) Get(host string) (LeafCertificate, bool) {
	c.mu.Lock()
	leaf, ok := c.lru.Get(host)
	c.mu.Unlock()
	if ok {
		return LeafCertificate{
			CertPEM: append([]byte(nil), leaf.CertPEM...),
			KeyPEM:  append([]byte(nil), leaf.KeyPEM...),
		}, true
	}

	if c.diskPath == "" {
		return LeafCertificate{}, false
	}

	loaded, err := c.loadFromDisk(host)
	if err != nil {
		return LeafCertificate{}, false
	}

	c.mu.Lock()
	c.lru.Add(host, loaded)
	c.mu.Unlock()
	return LeafCertificate{
		CertPEM: append([]byte(nil), loaded.CertPEM...),
		KeyPEM:  append([]byte(nil), loaded.KeyPEM...),
	}, true
}

// Insert overwrites (or adds) host's cached leaf and evicts the
// least-recently-used entry if the cache is over capacity.
func (c *CertCache) Insert(host string, leaf LeafCertificate) {
	c.mu.Lock()
	c.lru.Add(host, leaf)
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *CertCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Persist writes {disk_path}/{host}.pem and .../{host}.key. It is a
// no-op (success) when no disk path is configured, and is callable
// independently of Insert. Disk errors never poison the in-memory
// cache; they are only surfaced to the caller.
func (c *CertCache) Persist(host string, leaf LeafCertificate) *httperr.Error {
	if c.diskPath == "" {
		return nil
	}
	if err := os.MkdirAll(c.diskPath, 0755); err != nil {
		return newTLSError(httperr.KindIO, "creating cert cache directory", err)
	}

	stem := escapeHost(host)
	if err := os.WriteFile(filepath.Join(c.diskPath, stem+".pem"), leaf.CertPEM, 0644); err != nil {
		return newTLSError(httperr.KindIO, "writing cached leaf certificate", err)
	}
	if err := os.WriteFile(filepath.Join(c.diskPath, stem+".key"), leaf.KeyPEM, 0600); err != nil {
		return newTLSError(httperr.KindIO, "writing cached leaf key", err)
	}
	return nil
}

func (c *CertCache) loadFromDisk(host string) (LeafCertificate, error) {
	stem := escapeHost(host)
	certPEM, err := os.ReadFile(filepath.Join(c.diskPath, stem+".pem"))
	if err != nil {
		return LeafCertificate{}, err
	}
	keyPEM, err := os.ReadFile(filepath.Join(c.diskPath, stem+".key"))
	if err != nil {
		return LeafCertificate{}, err
	}
	return LeafCertificate{CertPEM: certPEM, KeyPEM: keyPEM}, nil
}

// escapeHost turns a host string into a safe file stem. Hosts may
// contain path separators or other reserved characters, so they are
// escaped with url.PathEscape rather than used verbatim.
func escapeHost(host string) string {
	return url.PathEscape(host)
}
