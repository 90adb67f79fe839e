package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Shopify:     ShopifyConfig{SignatureMode: SignatureReportOnly},
		Meta:        MetaConfig{PixelID: "123", AccessToken: "token"},
		Pipeline:    PipelineConfig{PhoneCountryCode: "44"},
		Correlation: CorrelationConfig{Backend: CorrelationNone},
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("SHOPIFY_HMAC_MODE", "")
	t.Setenv("HAS_ADS_CONSENT", "")
	t.Setenv("PROXY_COOKIE_LOOKUP_URL", "")
	t.Setenv("CORRELATION_BACKEND", "")
	t.Setenv("DEFAULT_CURRENCY", "")
	t.Setenv("META_EVENT_SOURCE_URL", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, SignatureReportOnly, cfg.Shopify.SignatureMode)
	assert.True(t, cfg.Pipeline.HasAdsConsent)
	assert.Equal(t, "44", cfg.Pipeline.PhoneCountryCode)
	assert.Equal(t, "GBP", cfg.Pipeline.DefaultCurrency)
	assert.Equal(t, CorrelationNone, cfg.Correlation.Backend)
	assert.Equal(t, 2*time.Second, cfg.Correlation.LookupTimeout)
	assert.Empty(t, cfg.Meta.EventSourceURL)
	assert.False(t, cfg.ClickHouse.Enabled())
}

func TestLoadConfig_LookupURLSelectsHTTPBackend(t *testing.T) {
	t.Setenv("CORRELATION_BACKEND", "")
	t.Setenv("PROXY_COOKIE_LOOKUP_URL", "https://cookies.example.com/lookup")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, CorrelationHTTP, cfg.Correlation.Backend)
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	t.Setenv("HAS_ADS_CONSENT", "maybe")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("HAS_ADS_CONSENT", "false")
	t.Setenv("LOOKUP_TIMEOUT", "soon")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cfg := validConfig()
	cfg.Shopify.SignatureMode = SignatureEnforcing
	require.Error(t, cfg.Validate(), "enforcing mode needs a secret")
	cfg.Shopify.WebhookSecret = "shh"
	require.NoError(t, cfg.Validate())

	cfg = validConfig()
	cfg.Shopify.SignatureMode = "strict"
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Meta.AccessToken = ""
	require.Error(t, cfg.Validate())
	require.NoError(t, cfg.ValidatePipeline(), "dry runs do not need delivery credentials")

	cfg = validConfig()
	cfg.Correlation.Backend = CorrelationHTTP
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Correlation.Backend = "etcd"
	require.Error(t, cfg.Validate())
}

func TestLoadClassifierRules(t *testing.T) {
	rules, err := LoadClassifierRules("")
	require.NoError(t, err)
	assert.Equal(t, DefaultClassifierRules(), rules)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `excluded_tags:
  - Subscription Recurring Order
  - Wholesale
excluded_sources: []
excluded_line_item_properties:
  - _recharge_subscription_id
exclude_selling_plans: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	rules, err = LoadClassifierRules(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Subscription Recurring Order", "Wholesale"}, rules.ExcludedTags)
	assert.Empty(t, rules.ExcludedSources)
	assert.False(t, rules.ExcludeSellingPlans)

	_, err = LoadClassifierRules(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
