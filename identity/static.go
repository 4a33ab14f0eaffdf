package identity

import (
	"context"
	"fmt"
	"os"
	"strings"
	"trade-chat/contract"
	"trade-chat/domain"
	"trade-chat/errors"

	"gopkg.in/yaml.v3"
)

var _ contract.IdentityLookup = (*StaticDirectory)(nil)

// StaticDirectory serves identities from a fixed set, typically a YAML file.
// It is used for local runs and tests, where no identity service is reachable.
type StaticDirectory struct {
	users map[string]domain.Identity
}

type staticFile struct {
	Users []domain.Identity `yaml:"users"`
}

func NewStaticDirectory(identities ...domain.Identity) *StaticDirectory {
	users := make(map[string]domain.Identity, len(identities))
	for _, identity := range identities {
		identity.UserType = domain.UserType(strings.ToUpper(string(identity.UserType)))
		users[identity.UserID] = identity
	}
	return &StaticDirectory{users: users}
}

// LoadStaticDirectory reads a file shaped as:
//
//	users:
//	  - userId: "10"
//	    userType: BUYER
//	    displayName: Jane Doe
//	    companyName: Doe Hardware
func LoadStaticDirectory(path string) (*StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identity file: %w", err)
	}
	var file staticFile
	if err = yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse identity file %s: %w", path, err)
	}
	return NewStaticDirectory(file.Users...), nil
}

func (d *StaticDirectory) Lookup(_ context.Context, userID string) (domain.Identity, error) {
	identity, ok := d.users[userID]
	if !ok {
		return domain.Identity{}, fmt.Errorf("%w: %s", errors.ErrUnknownUser, userID)
	}
	return identity, nil
}
