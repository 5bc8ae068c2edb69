package spotify

import (
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/oauth2"
)

// FilePermission is the permission for token files
const FilePermission = 0600

// TokenData is the on-disk token file used by the command line tools.
type TokenData struct {
	Token *oauth2.Token `json:"token"`
}

// LoadToken reads a token file written by SaveToken.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tokenData TokenData
	if err := json.Unmarshal(data, &tokenData); err != nil {
		return nil, fmt.Errorf("invalid token file %s: %w", path, err)
	}
	if tokenData.Token == nil {
		return nil, fmt.Errorf("token file %s has no token", path)
	}

	return tokenData.Token, nil
}

// SaveToken writes the token with owner-only permissions.
func SaveToken(path string, token *oauth2.Token) error {
	tokenData := TokenData{Token: token}

	data, err := json.MarshalIndent(tokenData, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, FilePermission)
}
