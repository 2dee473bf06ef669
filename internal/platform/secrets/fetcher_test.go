package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const stripeResource = "projects/test/secrets/stripe_secret_key/versions/latest"

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values[stripeResource] = "sk_test_remote"

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithDefaultProject("test"), WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(ctx, "secret://stripe_secret_key")
		if err != nil {
			t.Fatalf("Resolve returned error: %v", err)
		}
		if got != "sk_test_remote" {
			t.Fatalf("expected remote secret, got %s", got)
		}
	}
	if calls := client.callCount(stripeResource); calls != 1 {
		t.Fatalf("expected remote fetch once, got %d", calls)
	}
}

func TestResolveHonoursVersionAndProjectOverrides(t *testing.T) {
	ctx := context.Background()
	client := newFakeSecretClient()
	client.values["projects/other/secrets/paypal_client_secret/versions/3"] = "pinned"

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithDefaultProject("test"))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	got, err := fetcher.ResolveSecret(ctx, "sm://paypal_client_secret?version=3&project=other")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "pinned" {
		t.Fatalf("expected pinned value, got %s", got)
	}
}

func TestResolveFallsBackWhenSecretManagerUnavailable(t *testing.T) {
	ctx := context.Background()
	fallbackPath := writeFallback(t, "secret://stripe_secret_key=sk_test_local\n")

	client := newFakeSecretClient()
	client.errors[stripeResource] = status.Error(codes.PermissionDenied, "denied")

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithDefaultProject("test"), WithFallbackFile(fallbackPath))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	got, err := fetcher.Resolve(ctx, "secret://stripe_secret_key")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "sk_test_local" {
		t.Fatalf("expected fallback secret, got %s", got)
	}
}

func TestResolveDoesNotFallbackOnNotFound(t *testing.T) {
	ctx := context.Background()
	fallbackPath := writeFallback(t, "secret://stripe_secret_key=sk_test_local\n")

	client := newFakeSecretClient()
	client.errors[stripeResource] = status.Error(codes.NotFound, "missing")

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithDefaultProject("test"), WithFallbackFile(fallbackPath))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	if _, err := fetcher.Resolve(ctx, "secret://stripe_secret_key"); err == nil {
		t.Fatal("expected error when secret is missing")
	}
}

func TestNewFetcherWithoutCredentialsUsesFallback(t *testing.T) {
	ctx := context.Background()
	original := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (secretManagerClient, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { secretManagerClientFactory = original })

	fetcher, err := NewFetcher(ctx, WithFallbackFile(writeFallback(t, "sm://nets_secret_key=nets-local\n")))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	value, err := fetcher.Resolve(ctx, "secret://nets_secret_key")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if value != "nets-local" {
		t.Fatalf("expected local secret, got %s", value)
	}
}

func TestFallbackFileKeysOnFullReference(t *testing.T) {
	ctx := context.Background()
	original := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (secretManagerClient, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { secretManagerClientFactory = original })

	content := strings.Join([]string{
		"# local development secrets",
		"",
		"secret://stripe_webhook_secret=whsec_a:b=c",
		`sm://paypal_client_secret="quoted value"`,
		"not a reference",
	}, "\n")
	fetcher, err := NewFetcher(ctx, WithFallbackFile(writeFallback(t, content)))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}

	cases := map[string]string{
		"secret://stripe_webhook_secret": "whsec_a:b=c",
		"sm://stripe_webhook_secret":     "whsec_a:b=c",
		"secret://paypal_client_secret":  "quoted value",
	}
	for ref, want := range cases {
		got, err := fetcher.Resolve(ctx, ref)
		if err != nil {
			t.Fatalf("Resolve(%s) returned error: %v", ref, err)
		}
		if got != want {
			t.Fatalf("Resolve(%s) = %q, want %q", ref, got, want)
		}
	}
	if _, err := fetcher.Resolve(ctx, "secret://secret"); err == nil {
		t.Fatal("expected lookup by scheme name to fail")
	}
}

func TestParseReferenceRejectsUnsupportedSchemes(t *testing.T) {
	for _, ref := range []string{"", "https://example.com", "secret://"} {
		if _, err := parseReference(ref); err == nil {
			t.Fatalf("expected %q to be rejected", ref)
		}
	}
}

func writeFallback(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing fallback file: %v", err)
	}
	return path
}

type fakeSecretClient struct {
	mu      sync.Mutex
	values  map[string]string
	errors  map[string]error
	counter map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values:  make(map[string]string),
		errors:  make(map[string]error),
		counter: make(map[string]int),
	}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := req.GetName()
	f.counter[name]++
	if err := f.errors[name]; err != nil {
		return nil, err
	}
	if value, ok := f.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (f *fakeSecretClient) Close() error { return nil }

func (f *fakeSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter[name]
}
