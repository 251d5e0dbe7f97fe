package config

import (
	"errors"
	"log/slog"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "dectpair"
	keyringUser    = "session-token"
)

// StoredToken returns the daemon token kept in the OS keyring, or ""
// when none is stored.
func StoredToken() (string, error) {
	tok, err := keyring.Get(keyringService, keyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	return tok, err
}

// StoreToken saves the daemon token in the OS keyring.
func StoreToken(token string) error {
	if token == "" {
		return errors.New("empty token")
	}
	return keyring.Set(keyringService, keyringUser, token)
}

// ForgetToken removes the stored token. Removing a missing token is not an error.
func ForgetToken() error {
	err := keyring.Delete(keyringService, keyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// applyKeyring fills Session.Token from the keyring when neither the file
// nor the environment set one. An unavailable keyring only logs.
func (c *Config) applyKeyring() {
	if c.Session.Token != "" {
		return
	}
	tok, err := StoredToken()
	if err != nil {
		slog.Debug("keyring unavailable", "error", err)
		return
	}
	c.Session.Token = tok
}
