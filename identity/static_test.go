package identity

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"trade-chat/domain"
	"trade-chat/errors"

	"github.com/stretchr/testify/require"
)

const identities = `users:
  - userId: "10"
    userType: buyer
    displayName: Jane Doe
    companyName: Doe Hardware
  - userId: "20"
    userType: SUPPLIER
    displayName: John Roe
`

func TestLoadStaticDirectory(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "identities.yaml")
	req.NoError(os.WriteFile(path, []byte(identities), 0o600))

	directory, err := LoadStaticDirectory(path)
	req.NoError(err)

	jane, err := directory.Lookup(context.Background(), "10")
	req.NoError(err)
	req.Equal(domain.UserTypeBuyer, jane.UserType)
	req.Equal("Doe Hardware", jane.Name())

	john, err := directory.Lookup(context.Background(), "20")
	req.NoError(err)
	req.Equal(domain.UserTypeSupplier, john.UserType)
	req.Equal("John Roe", john.Name())

	_, err = directory.Lookup(context.Background(), "30")
	req.ErrorIs(err, errors.ErrUnknownUser)
}

func TestLoadStaticDirectory_Errors(t *testing.T) {
	_, err := LoadStaticDirectory(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("users: [\n"), 0o600))
	_, err = LoadStaticDirectory(path)
	require.Error(t, err)
}
