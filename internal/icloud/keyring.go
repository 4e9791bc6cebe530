package icloud

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

// keyringService names our entries in the system keyring.
const keyringService = "icloudpd"

func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{ServiceName: keyringService})
	if err != nil {
		return nil, fmt.Errorf("icloud: opening system keyring: %w", err)
	}

	return ring, nil
}

// KeyringPassword returns the password stored in the system keyring for
// username. A missing entry is not an error; it returns "".
func KeyringPassword(username string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(username)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("icloud: reading password from keyring: %w", err)
	}

	return string(item.Data), nil
}

// StoreKeyringPassword saves the password for username in the system
// keyring.
func StoreKeyringPassword(username, password string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   username,
		Data:  []byte(password),
		Label: keyringService + ": " + username,
	})
	if err != nil {
		return fmt.Errorf("icloud: storing password in keyring: %w", err)
	}

	return nil
}

// DeleteKeyringPassword removes the stored password for username. Deleting
// an absent entry succeeds.
func DeleteKeyringPassword(username string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Remove(username)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("icloud: deleting password from keyring: %w", err)
	}

	return nil
}
