package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"trade-chat/contract"
	"trade-chat/domain"
	"trade-chat/errors"
)

var _ contract.IdentityLookup = (*HTTPDirectory)(nil)

// HTTPDirectory queries GET {baseURL}/users/{id} on the identity service.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
}

func NewHTTPDirectory(baseURL string, timeout time.Duration) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type directoryUser struct {
	UserType    string `json:"userType"`
	DisplayName string `json:"displayName"`
	CompanyName string `json:"companyName"`
}

func (d *HTTPDirectory) Lookup(ctx context.Context, userID string) (domain.Identity, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet,
		d.baseURL+"/users/"+url.PathEscape(userID), nil)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", errors.ErrIdentityLookup, err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := d.client.Do(request)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", errors.ErrIdentityLookup, err)
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode == http.StatusNotFound:
		return domain.Identity{}, fmt.Errorf("%w: %s", errors.ErrUnknownUser, userID)
	case response.StatusCode != http.StatusOK:
		return domain.Identity{}, fmt.Errorf("%w: directory answered %d", errors.ErrIdentityLookup, response.StatusCode)
	}

	var user directoryUser
	if err = json.NewDecoder(response.Body).Decode(&user); err != nil {
		return domain.Identity{}, fmt.Errorf("%w: decode: %v", errors.ErrIdentityLookup, err)
	}
	return domain.Identity{
		UserID:      userID,
		UserType:    domain.UserType(strings.ToUpper(strings.TrimSpace(user.UserType))),
		DisplayName: user.DisplayName,
		CompanyName: user.CompanyName,
	}, nil
}
