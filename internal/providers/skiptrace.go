package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lead-enricher/internal/common/errors"
	commonhttp "lead-enricher/internal/common/http"
	"lead-enricher/internal/common/logging"
	"lead-enricher/internal/storage"
)

// SkipTraceName is the registry name of the skip-trace provider.
const SkipTraceName = "skiptrace"

// SkipTraceConfig configures the skip-trace client.
type SkipTraceConfig struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	CostCents int64
}

// SkipTraceClient resolves phone numbers and email addresses for a subject
// from a skip-trace API. Same billing model as the property provider.
type SkipTraceClient struct {
	config SkipTraceConfig
	client *http.Client
	logger logging.Logger
}

// NewSkipTraceClient creates a SkipTraceClient.
func NewSkipTraceClient(config SkipTraceConfig, logger logging.Logger) (*SkipTraceClient, error) {
	if config.BaseURL == "" {
		return nil, errors.ConfigError("skip-trace provider base URL is required")
	}
	if config.APIKey == "" {
		return nil, errors.ConfigError("skip-trace provider API key is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.CostCents == 0 {
		config.CostCents = 15
	}

	return &SkipTraceClient{
		config: config,
		client: commonhttp.NewHTTPClientWithTimeout(config.Timeout),
		logger: logger,
	}, nil
}

// Name implements Invoker.
func (s *SkipTraceClient) Name() string { return SkipTraceName }

type skipTraceRequest struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Street    string `json:"street"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Zip       string `json:"zip,omitempty"`
}

type skipTraceResponse struct {
	Matches []struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Relation  string `json:"relation"`
		Phones    []struct {
			Number string `json:"number"`
		} `json:"phones"`
		Emails []struct {
			Address string `json:"address"`
		} `json:"emails"`
	} `json:"matches"`
}

// Call implements Invoker.
func (s *SkipTraceClient) Call(ctx context.Context, req Request) (*Result, error) {
	payload, err := json.Marshal(skipTraceRequest{
		FirstName: req.OwnerFirstName,
		LastName:  req.OwnerLastName,
		Street:    req.Street,
		City:      req.City,
		State:     req.State,
		Zip:       req.Zip,
	})
	if err != nil {
		return nil, errors.InternalError("failed to marshal skip-trace request", err)
	}

	endpoint := strings.TrimRight(s.config.BaseURL, "/") + "/v1/search"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.InternalError("failed to build skip-trace request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-API-Key", s.config.APIKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(SkipTraceName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.ProviderTransientError(SkipTraceName, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(SkipTraceName, resp.StatusCode, body)
	}

	var parsed skipTraceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.ProviderTransientError(SkipTraceName, fmt.Errorf("malformed response: %w", err))
	}

	if len(parsed.Matches) == 0 {
		return nil, errors.ProviderNotFoundError(SkipTraceName)
	}

	contacts := make([]storage.Contact, 0, len(parsed.Matches))
	for _, match := range parsed.Matches {
		contact := storage.Contact{
			FirstName: strings.TrimSpace(match.FirstName),
			LastName:  strings.TrimSpace(match.LastName),
			Type:      contactType(match.Relation),
		}
		if len(match.Phones) > 0 {
			contact.Phone = match.Phones[0].Number
		}
		if len(match.Emails) > 0 {
			contact.Email = match.Emails[0].Address
		}
		contacts = append(contacts, contact)
	}

	s.logger.Debug("skip-trace lookup succeeded",
		logging.Field{Key: "subject_id", Value: req.SubjectID},
		logging.Field{Key: "matches", Value: len(contacts)},
	)

	return &Result{
		Provider:  SkipTraceName,
		Contacts:  contacts,
		CostCents: s.config.CostCents,
	}, nil
}

func contactType(relation string) string {
	switch strings.ToLower(relation) {
	case "", "self", "owner":
		return "owner"
	case "relative", "family":
		return "relative"
	default:
		return "associate"
	}
}
