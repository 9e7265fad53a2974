package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lead-enricher/internal/common/errors"
	commonhttp "lead-enricher/internal/common/http"
	"lead-enricher/internal/common/logging"
	"lead-enricher/internal/storage"
)

// PropertyName is the registry name of the property data provider.
const PropertyName = "attom"

// PropertyConfig configures the property data client.
type PropertyConfig struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	CostCents int64 // billed per successful lookup
}

// PropertyClient looks up property ownership records. The upstream bills
// per successful lookup, so callers must go through the result cache.
type PropertyClient struct {
	config PropertyConfig
	client *http.Client
	logger logging.Logger
}

// NewPropertyClient creates a PropertyClient.
func NewPropertyClient(config PropertyConfig, logger logging.Logger) (*PropertyClient, error) {
	if config.BaseURL == "" {
		return nil, errors.ConfigError("property provider base URL is required")
	}
	if config.APIKey == "" {
		return nil, errors.ConfigError("property provider API key is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.CostCents == 0 {
		config.CostCents = 25
	}

	return &PropertyClient{
		config: config,
		client: commonhttp.NewHTTPClientWithTimeout(config.Timeout),
		logger: logger,
	}, nil
}

// Name implements Invoker.
func (p *PropertyClient) Name() string { return PropertyName }

// propertyResponse is the subset of the upstream payload we consume.
type propertyResponse struct {
	Property []struct {
		Owner struct {
			Owner1 struct {
				FirstNameAndMI string `json:"firstnameandmi"`
				LastName       string `json:"lastname"`
			} `json:"owner1"`
			Owner2 struct {
				FirstNameAndMI string `json:"firstnameandmi"`
				LastName       string `json:"lastname"`
			} `json:"owner2"`
		} `json:"owner"`
	} `json:"property"`
}

// Call implements Invoker. An empty property list counts as a miss so the
// orchestrator can cache the negative result.
func (p *PropertyClient) Call(ctx context.Context, req Request) (*Result, error) {
	query := url.Values{}
	query.Set("address1", strings.TrimSpace(req.Street))
	query.Set("address2", strings.TrimSpace(strings.Join(nonEmpty(req.City, req.State, req.Zip), " ")))

	endpoint := strings.TrimRight(p.config.BaseURL, "/") + "/propertyapi/v1.0.0/property/detailowner?" + query.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.InternalError("failed to build property request", err)
	}
	httpReq.Header.Set("apikey", p.config.APIKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(PropertyName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.ProviderTransientError(PropertyName, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(PropertyName, resp.StatusCode, body)
	}

	var parsed propertyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.ProviderTransientError(PropertyName, fmt.Errorf("malformed response: %w", err))
	}

	if len(parsed.Property) == 0 {
		return nil, errors.ProviderNotFoundError(PropertyName)
	}

	contacts := make([]storage.Contact, 0, 2)
	owner := parsed.Property[0].Owner
	if owner.Owner1.LastName != "" {
		contacts = append(contacts, storage.Contact{
			FirstName: strings.TrimSpace(owner.Owner1.FirstNameAndMI),
			LastName:  strings.TrimSpace(owner.Owner1.LastName),
			Type:      "owner",
		})
	}
	if owner.Owner2.LastName != "" {
		contacts = append(contacts, storage.Contact{
			FirstName: strings.TrimSpace(owner.Owner2.FirstNameAndMI),
			LastName:  strings.TrimSpace(owner.Owner2.LastName),
			Type:      "owner",
		})
	}

	if len(contacts) == 0 {
		return nil, errors.ProviderNotFoundError(PropertyName)
	}

	p.logger.Debug("property lookup succeeded",
		logging.Field{Key: "subject_id", Value: req.SubjectID},
		logging.Field{Key: "owners", Value: len(contacts)},
	)

	return &Result{
		Provider:  PropertyName,
		Contacts:  contacts,
		CostCents: p.config.CostCents,
	}, nil
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}
