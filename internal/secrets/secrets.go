// Package secrets resolves provider API keys at startup. Keys live in
// AWS Secrets Manager in production and in environment variables for
// local development.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type Store interface {
	Get(ctx context.Context, name string) (string, error)
	GetJSON(ctx context.Context, name string, v interface{}) error
}

// AWSStore reads secrets from AWS Secrets Manager with a short-lived
// in-process cache so key rotation propagates without a restart.
type AWSStore struct {
	client *secretsmanager.Client
	cache  map[string]*cachedSecret
	mu     sync.RWMutex
	ttl    time.Duration
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

func NewAWSStore(ctx context.Context, region string) (*AWSStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewAWSStoreWithConfig(cfg), nil
}

func NewAWSStoreWithConfig(cfg aws.Config) *AWSStore {
	return &AWSStore{
		client: secretsmanager.NewFromConfig(cfg),
		cache:  make(map[string]*cachedSecret),
		ttl:    5 * time.Minute,
	}
}

func (s *AWSStore) Get(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if cached, ok := s.cache[name]; ok && time.Now().Before(cached.expiresAt) {
		s.mu.RUnlock()
		return cached.value, nil
	}
	s.mu.RUnlock()

	input := &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	}

	result, err := s.client.GetSecretValue(ctx, input)
	if err != nil {
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}

	value := ""
	if result.SecretString != nil {
		value = *result.SecretString
	}

	s.mu.Lock()
	s.cache[name] = &cachedSecret{
		value:     value,
		expiresAt: time.Now().Add(s.ttl),
	}
	s.mu.Unlock()

	return value, nil
}

func (s *AWSStore) GetJSON(ctx context.Context, name string, v interface{}) error {
	secret, err := s.Get(ctx, name)
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(secret), v)
}

func (s *AWSStore) SetCacheTTL(ttl time.Duration) {
	s.ttl = ttl
}

func (s *AWSStore) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*cachedSecret)
}

// EnvStore resolves secret names to environment variables, mapping
// "genfallback/providers/openai" to GENFALLBACK_PROVIDERS_OPENAI.
type EnvStore struct{}

func NewEnvStore() *EnvStore {
	return &EnvStore{}
}

func (s *EnvStore) Get(_ context.Context, name string) (string, error) {
	env := strings.ToUpper(strings.NewReplacer("/", "_", "-", "_").Replace(name))
	value, ok := os.LookupEnv(env)
	if !ok {
		return "", fmt.Errorf("secret %s not found (env %s unset)", name, env)
	}
	return value, nil
}

func (s *EnvStore) GetJSON(ctx context.Context, name string, v interface{}) error {
	secret, err := s.Get(ctx, name)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(secret), v)
}

// InMemoryStore is a fixture-backed Store for tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		secrets: make(map[string]string),
	}
}

func (s *InMemoryStore) Get(_ context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.secrets[name]
	if !ok {
		return "", fmt.Errorf("secret %s not found", name)
	}
	return value, nil
}

func (s *InMemoryStore) GetJSON(ctx context.Context, name string, v interface{}) error {
	secret, err := s.Get(ctx, name)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(secret), v)
}

func (s *InMemoryStore) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = value
}

// ProviderKeyName is the Secrets Manager naming convention for a
// vendor's API key.
func ProviderKeyName(vendor string) string {
	return "genfallback/providers/" + vendor
}

// ProviderKey fetches a vendor API key. A missing key is not fatal
// here; callers decide whether the vendor is required.
func ProviderKey(ctx context.Context, store Store, vendor string) (string, error) {
	return store.Get(ctx, ProviderKeyName(vendor))
}
