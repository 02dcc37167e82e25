package config

import (
	"sync"

	"github.com/99designs/keyring"
	"github.com/pkg/errors"

	moverrors "github.com/Warky-Devs/WkMailMove/internal/errors"
)

const keyringService = "wkmailmove"

// OpenKeyring opens the OS keyring used for account passwords.
func OpenKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/wkmailmove/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("wkmailmove-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "opening keyring")
	}
	return ring, nil
}

// Credentials resolves account ids to user names and passwords. The keyring
// is only opened when an account actually refers to it.
type Credentials struct {
	accounts map[string]Account
	open     func() (keyring.Keyring, error)

	once    sync.Once
	ring    keyring.Keyring
	ringErr error
}

func NewCredentials(accounts []Account, open func() (keyring.Keyring, error)) *Credentials {
	byID := make(map[string]Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	if open == nil {
		open = OpenKeyring
	}
	return &Credentials{accounts: byID, open: open}
}

func (c *Credentials) account(id string) (Account, error) {
	a, ok := c.accounts[id]
	if !ok {
		return Account{}, errors.Wrapf(moverrors.ErrConfig, "unknown account %q", id)
	}
	return a, nil
}

func (c *Credentials) User(id string) (string, error) {
	a, err := c.account(id)
	if err != nil {
		return "", err
	}
	return a.User, nil
}

func (c *Credentials) Password(id string) (string, error) {
	a, err := c.account(id)
	if err != nil {
		return "", err
	}
	if a.Password != "" {
		return a.Password, nil
	}
	if a.Keyring == "" {
		return "", errors.Wrapf(moverrors.ErrConfig, "account %q has no password", id)
	}

	c.once.Do(func() { c.ring, c.ringErr = c.open() })
	if c.ringErr != nil {
		return "", errors.Wrapf(moverrors.ErrConfig, "account %q: %v", id, c.ringErr)
	}
	item, err := c.ring.Get(a.Keyring)
	if err != nil {
		return "", errors.Wrapf(moverrors.ErrConfig, "account %q: keyring item %q: %v", id, a.Keyring, err)
	}
	return string(item.Data), nil
}
