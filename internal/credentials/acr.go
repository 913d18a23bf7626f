package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/fleetedge/agentcore/internal/downloader"
)

// acrExchangeScope is the AAD scope an ACR refresh-token exchange is
// requested under.
const acrExchangeScope = "https://management.azure.com/.default"

// acrRefreshTokenTTL is conservative: ACR refresh tokens are valid up
// to three hours, but the exact lifetime isn't returned by the
// exchange endpoint, so a shorter assumed lifetime forces more
// frequent (safe) refreshes.
const acrRefreshTokenTTL = 1 * time.Hour

// ACRProvider exchanges an Azure AD identity for an Azure Container
// Registry refresh token, grounded on the teacher's
// azidentity.DefaultAzureCredential usage
// (internal/infrastructure/parser/azure/credentials.go's
// CredentialConfig.GetCredential) and generalized from ARM calls to
// the ACR token-exchange endpoint.
type ACRProvider struct {
	cred       *azidentity.DefaultAzureCredential
	httpClient *http.Client
	now        func() time.Time
}

// NewACRProvider builds a provider from the default Azure credential
// chain (environment, managed identity, Azure CLI, in that order).
func NewACRProvider() (*ACRProvider, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("credentials: new azure credential: %w", err)
	}
	return &ACRProvider{
		cred:       cred,
		httpClient: http.DefaultClient,
		now:        time.Now,
	}, nil
}

func (p *ACRProvider) Name() string { return "azure-acr" }

// acrExchangeResponse is the ACR oauth2/exchange endpoint's response
// body shape.
type acrExchangeResponse struct {
	RefreshToken string `json:"refresh_token"`
}

// Fetch exchanges the AAD access token for an ACR refresh token scoped
// to endpoint, an ACR login server hostname (e.g.
// "myregistry.azurecr.io"). The returned RegistryCredentials carries
// the constant literal username ACR expects for refresh-token auth.
func (p *ACRProvider) Fetch(ctx context.Context, endpoint string) (RegistryCredentials, error) {
	aadToken, err := p.cred.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{acrExchangeScope},
	})
	if err != nil {
		return RegistryCredentials{}, &downloader.AuthError{URI: endpoint, Cause: err}
	}

	loginServer := strings.TrimPrefix(endpoint, "https://")
	loginServer = strings.TrimPrefix(loginServer, "http://")

	form := url.Values{}
	form.Set("grant_type", "access_token")
	form.Set("service", loginServer)
	form.Set("access_token", aadToken.Token)

	exchangeURL := fmt.Sprintf("https://%s/oauth2/exchange", loginServer)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, exchangeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return RegistryCredentials{}, fmt.Errorf("credentials: build acr exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return RegistryCredentials{}, &downloader.AuthError{URI: endpoint, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return RegistryCredentials{}, &downloader.AuthError{URI: endpoint, Cause: fmt.Errorf("acr exchange returned %s", resp.Status)}
	}

	var parsed acrExchangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return RegistryCredentials{}, fmt.Errorf("credentials: parse acr exchange response: %w", err)
	}

	return RegistryCredentials{
		Username:  "00000000-0000-0000-0000-000000000000",
		Password:  parsed.RefreshToken,
		ExpiresAt: p.now().Add(acrRefreshTokenTTL),
	}, nil
}
