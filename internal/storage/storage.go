package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/illegalcall/wingwoman/internal/generation"
)

var (
	ErrTooLarge    = errors.New("image exceeds the maximum upload size")
	ErrNotAnImage  = errors.New("file is not a supported image")
	ErrEmptySource = errors.New("image source is empty")
	ErrBadSource   = errors.New("image source is not a reachable URL or valid base64 data")

	// ErrForbiddenHost is returned when a source URL resolves to a loopback,
	// private or link-local address.
	ErrForbiddenHost = errors.New("image source host is not allowed")
)

const maxRedirects = 3

// Storage defines the interface for temporary image storage
type Storage interface {
	// StoreFromURL downloads and stores a file from a URL
	StoreFromURL(ctx context.Context, url string) (string, error)

	// StoreFromBytes stores a file from bytes
	StoreFromBytes(ctx context.Context, data []byte) (string, error)

	// Load reads a stored file back as an image
	Load(ctx context.Context, path string) (generation.Image, error)

	// Delete removes a file from storage
	Delete(ctx context.Context, path string) error
}

// LocalStorage implements Storage interface using local filesystem
type LocalStorage struct {
	tempDir string
	maxSize int64
	client  *http.Client
	allowed []netip.Prefix
}

type Option func(*LocalStorage)

// AllowNetworks lets downloads reach addresses inside the given prefixes even
// when they are loopback or private.
func AllowNetworks(prefixes ...netip.Prefix) Option {
	return func(s *LocalStorage) { s.allowed = append(s.allowed, prefixes...) }
}

// ParseNetworks parses a comma-separated CIDR list such as "10.0.0.0/8,127.0.0.1/32".
func ParseNetworks(list string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		p, err := netip.ParsePrefix(part)
		if err != nil {
			return nil, fmt.Errorf("invalid network %q: %w", part, err)
		}
		prefixes = append(prefixes, p)
	}
	return prefixes, nil
}

// NewLocalStorage creates a new LocalStorage instance. maxSize caps every
// stored file in bytes. Downloads refuse non-public addresses unless allowed
// through AllowNetworks.
func NewLocalStorage(tempDir string, maxSize int64, opts ...Option) (*LocalStorage, error) {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	abs, err := filepath.Abs(tempDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve temp directory: %w", err)
	}
	s := &LocalStorage{
		tempDir: abs,
		maxSize: maxSize,
	}
	for _, opt := range opts {
		opt(s)
	}

	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: s.checkDial,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	s.client = &http.Client{
		Timeout:   30 * time.Second,
		Transport: transport,
		// every hop dials through checkDial, so redirects cannot reach a forbidden address
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return fmt.Errorf("%w: redirect to %s", ErrForbiddenHost, req.URL.Scheme)
			}
			return nil
		},
	}
	return s, nil
}

// checkDial runs after DNS resolution, on the exact address being connected to.
func (s *LocalStorage) checkDial(network, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrForbiddenHost, address)
	}
	if !s.addrAllowed(ap.Addr().Unmap()) {
		return fmt.Errorf("%w: %s", ErrForbiddenHost, ap.Addr())
	}
	return nil
}

func (s *LocalStorage) addrAllowed(addr netip.Addr) bool {
	for _, p := range s.allowed {
		if p.Contains(addr) {
			return true
		}
	}
	return addr.IsGlobalUnicast() &&
		!addr.IsPrivate() &&
		!addr.IsLoopback() &&
		!addr.IsLinkLocalUnicast() &&
		!cgnat.Contains(addr)
}

// cgnat is the shared address space some clouds use for internal services.
var cgnat = netip.MustParsePrefix("100.64.0.0/10")

func (s *LocalStorage) StoreFromURL(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, ErrForbiddenHost) {
			return "", fmt.Errorf("%w: %w", ErrBadSource, ErrForbiddenHost)
		}
		return "", fmt.Errorf("%w: %v", ErrBadSource, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: download status %d", ErrBadSource, resp.StatusCode)
	}
	if resp.ContentLength > s.maxSize {
		return "", ErrTooLarge
	}

	return s.write(resp.Body)
}

func (s *LocalStorage) StoreFromBytes(ctx context.Context, data []byte) (string, error) {
	if int64(len(data)) > s.maxSize {
		return "", ErrTooLarge
	}
	return s.write(bytes.NewReader(data))
}

// write copies at most maxSize bytes of r into a new temp file.
func (s *LocalStorage) write(r io.Reader) (string, error) {
	tempFile, err := os.CreateTemp(s.tempDir, "img-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer tempFile.Close()

	n, err := io.Copy(tempFile, io.LimitReader(r, s.maxSize+1))
	if err != nil {
		os.Remove(tempFile.Name())
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if n > s.maxSize {
		os.Remove(tempFile.Name())
		return "", ErrTooLarge
	}

	return tempFile.Name(), nil
}

func (s *LocalStorage) Load(ctx context.Context, path string) (generation.Image, error) {
	if err := s.checkPath(path); err != nil {
		return generation.Image{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return generation.Image{}, fmt.Errorf("failed to read file: %w", err)
	}
	return Sniff(data)
}

func (s *LocalStorage) Delete(ctx context.Context, path string) error {
	if err := s.checkPath(path); err != nil {
		return err
	}
	return os.Remove(path)
}

func (s *LocalStorage) checkPath(path string) error {
	rel, err := filepath.Rel(s.tempDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("invalid file path: must be within temp directory")
	}
	return nil
}

// Cleanup removes stored files older than ttl and returns how many were removed.
func (s *LocalStorage) Cleanup(ttl time.Duration) (int, error) {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		return 0, fmt.Errorf("failed to list temp directory: %w", err)
	}

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.tempDir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Sniff detects the content type of data and accepts images only.
func Sniff(data []byte) (generation.Image, error) {
	if len(data) == 0 {
		return generation.Image{}, ErrEmptySource
	}
	mimeType := http.DetectContentType(data)
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return generation.Image{}, ErrNotAnImage
	}
	return generation.Image{Data: data, MIMEType: mimeType}, nil
}

// Fetch resolves an image source, which is an http(s) URL, a data URI or raw
// base64, into an Image. The intermediate file is always removed.
func Fetch(ctx context.Context, s Storage, source string) (generation.Image, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return generation.Image{}, ErrEmptySource
	}

	var (
		path string
		err  error
	)
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		path, err = s.StoreFromURL(ctx, source)
	} else {
		var data []byte
		data, err = decodeBase64(source)
		if err != nil {
			return generation.Image{}, err
		}
		path, err = s.StoreFromBytes(ctx, data)
	}
	if err != nil {
		return generation.Image{}, err
	}
	defer s.Delete(ctx, path)

	return s.Load(ctx, path)
}

// Read reads an uploaded file, enforcing maxSize.
func Read(r io.Reader, maxSize int64) (generation.Image, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return generation.Image{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > maxSize {
		return generation.Image{}, ErrTooLarge
	}
	return Sniff(data)
}

func decodeBase64(source string) ([]byte, error) {
	if strings.HasPrefix(source, "data:") {
		comma := strings.Index(source, ",")
		if comma < 0 {
			return nil, fmt.Errorf("%w: invalid data URI", ErrBadSource)
		}
		source = source[comma+1:]
	}
	data, err := base64.StdEncoding.DecodeString(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSource, err)
	}
	return data, nil
}
