// Package secrets resolves secret:// references against Google Secret Manager,
// falling back to a local key file for development.
package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const meterName = "github.com/xdignya776/shoptrae/internal/platform/secrets"

// ErrNotFound is returned when neither Secret Manager nor the local file knows a reference.
var ErrNotFound = errors.New("secrets: value not found")

var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (accessor, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Resolver looks up secret values and memoises them for the life of the process.
type Resolver struct {
	client    accessor
	ownClient bool
	projectID string
	localPath string
	logger    *zap.Logger

	localOnce sync.Once
	local     map[string]string

	mu    sync.RWMutex
	cache map[string]string

	lookups metric.Int64Counter
}

// Options configure a Resolver.
type Options struct {
	ProjectID     string
	LocalFile     string
	Logger        *zap.Logger
	Meter         metric.Meter
	ClientOptions []option.ClientOption

	client accessor
}

// NewResolver builds a Resolver. Without a project ID only the local file is consulted.
func NewResolver(ctx context.Context, opts Options) (*Resolver, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := opts.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	lookups, err := meter.Int64Counter("secrets.lookups", metric.WithDescription("Secret lookups by source"))
	if err != nil {
		return nil, fmt.Errorf("secrets: register metric: %w", err)
	}

	r := &Resolver{
		projectID: strings.TrimSpace(opts.ProjectID),
		localPath: strings.TrimSpace(opts.LocalFile),
		logger:    logger.Named("secrets"),
		cache:     make(map[string]string),
		lookups:   lookups,
	}

	switch {
	case opts.client != nil:
		r.client = opts.client
	case r.projectID != "":
		client, err := newSecretManagerClient(ctx, opts.ClientOptions...)
		if err != nil {
			r.logger.Warn("secret manager unavailable, using local file only", zap.Error(err))
		} else {
			r.client = client
			r.ownClient = true
		}
	}
	return r, nil
}

// Close releases the Secret Manager client when the resolver created it.
func (r *Resolver) Close() error {
	if r.ownClient && r.client != nil {
		return r.client.Close()
	}
	return nil
}

// ResolveSecret satisfies config.SecretResolver.
func (r *Resolver) ResolveSecret(ctx context.Context, ref string) (string, error) {
	parsed, err := parseRef(ref)
	if err != nil {
		return "", err
	}

	r.mu.RLock()
	value, ok := r.cache[parsed.canonical]
	r.mu.RUnlock()
	if ok {
		r.count(ctx, "cache")
		return value, nil
	}

	if r.client != nil && r.projectFor(parsed) != "" {
		value, err := r.fetch(ctx, parsed)
		switch {
		case err == nil:
			r.remember(parsed.canonical, value)
			r.count(ctx, "remote")
			return value, nil
		case !retryLocally(err):
			r.count(ctx, "error")
			return "", fmt.Errorf("secrets: fetch %s: %w", mask(parsed.canonical), err)
		default:
			r.logger.Debug("secret manager refused, trying local file", zap.String("secret", mask(parsed.canonical)), zap.Error(err))
		}
	}

	value, ok = r.lookupLocal(parsed.canonical)
	if !ok {
		r.count(ctx, "miss")
		return "", fmt.Errorf("%w: %s", ErrNotFound, mask(parsed.canonical))
	}
	r.remember(parsed.canonical, value)
	r.count(ctx, "local")
	return value, nil
}

func (r *Resolver) fetch(ctx context.Context, ref secretRef) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", r.projectFor(ref), ref.name, ref.version)
	resp, err := r.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("empty payload for %s", name)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (r *Resolver) projectFor(ref secretRef) string {
	if ref.project != "" {
		return ref.project
	}
	return r.projectID
}

func (r *Resolver) remember(key, value string) {
	r.mu.Lock()
	r.cache[key] = value
	r.mu.Unlock()
}

func (r *Resolver) count(ctx context.Context, source string) {
	r.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// lookupLocal reads lines of the form secret://name=value.
func (r *Resolver) lookupLocal(canonical string) (string, bool) {
	r.localOnce.Do(func() {
		r.local = map[string]string{}
		if r.localPath == "" {
			return
		}
		file, err := os.Open(r.localPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				r.logger.Warn("unable to open local secrets file", zap.String("path", r.localPath), zap.Error(err))
			}
			return
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			key, value, found := strings.Cut(line, "=")
			if !found {
				continue
			}
			parsed, err := parseRef(strings.TrimSpace(key))
			if err != nil {
				continue
			}
			r.local[parsed.canonical] = strings.TrimSpace(value)
		}
	})
	value, ok := r.local[canonical]
	return value, ok
}

type secretRef struct {
	canonical string
	name      string
	version   string
	project   string
}

func parseRef(ref string) (secretRef, error) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "sm://") {
		ref = "secret://" + strings.TrimPrefix(ref, "sm://")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return secretRef{}, fmt.Errorf("secrets: invalid reference: %w", err)
	}
	if u.Scheme != "secret" {
		return secretRef{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return secretRef{}, errors.New("secrets: missing secret name")
	}
	query := u.Query()
	version := strings.TrimSpace(query.Get("version"))
	if version == "" {
		version = "latest"
	}
	return secretRef{
		canonical: "secret://" + name + "#" + version,
		name:      name,
		version:   version,
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

func retryLocally(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded, codes.NotFound:
		return true
	default:
		return false
	}
}

func mask(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(sum[:6])
}
