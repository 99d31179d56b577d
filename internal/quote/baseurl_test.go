package quote

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePrimaryBaseURL_BareHost(t *testing.T) {
	assert.Equal(t, "https://api.jup.ag", NormalizePrimaryBaseURL("api.jup.ag"))
}

func TestNormalizePrimaryBaseURL_EmptyFallsBackToDefault(t *testing.T) {
	assert.Equal(t, DefaultPrimaryBaseURL, NormalizePrimaryBaseURL(""))
}

func TestNormalizePrimaryBaseURL_StripsTrailingSlashAndQuery(t *testing.T) {
	assert.Equal(t, "https://host.example/swap", NormalizePrimaryBaseURL("https://host.example/swap/?foo=bar#frag"))
}

func TestNormalizeUltraBaseURL_AppendsWhenMissing(t *testing.T) {
	assert.Equal(t, "https://api.jup.ag/ultra", NormalizeUltraBaseURL("api.jup.ag"))
}

func TestNormalizeUltraBaseURL_ToleratesExistingSuffix(t *testing.T) {
	assert.Equal(t, "https://api.jup.ag/ultra", NormalizeUltraBaseURL("https://api.jup.ag/ultra"))
}

func TestNormalizeSecondaryBaseURL_TrailingSlashes(t *testing.T) {
	assert.Equal(t, "https://open-api.openocean.finance/v4", NormalizeSecondaryBaseURL("https://open-api.openocean.finance/v4///"))
}

func TestNormalizeSecondaryBaseURL_InvalidFallsBack(t *testing.T) {
	assert.Equal(t, DefaultSecondaryBaseURL, NormalizeSecondaryBaseURL("http://[::1"))
}

func TestRequiresAPIKey_PublicHost(t *testing.T) {
	assert.True(t, RequiresAPIKey("https://api.jup.ag"))
}

func TestRequiresAPIKey_PrivateHost(t *testing.T) {
	assert.False(t, RequiresAPIKey("https://my-self-hosted.example"))
}
