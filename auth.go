package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/icloud-photos-downloader/icloudpd-go/internal/icloud"
)

// interactiveStdin reports whether prompts can be answered.
func interactiveStdin() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}

// credentialSource is the password lookup chain: explicit configuration,
// then the system keyring, then an interactive prompt. The function fields
// exist so tests can run the chain without a keyring or a terminal.
type credentialSource struct {
	configured string
	keyring    func(username string) (string, error)
	isTerminal func() bool
	prompt     func(label string) (string, error)
}

func defaultCredentialSource(configured string) credentialSource {
	return credentialSource{
		configured: configured,
		keyring:    icloud.KeyringPassword,
		isTerminal: interactiveStdin,
		prompt:     promptPassword,
	}
}

func (cs credentialSource) password(username string) (string, error) {
	if cs.configured != "" {
		return cs.configured, nil
	}

	if pw, err := cs.keyring(username); err == nil && pw != "" {
		return pw, nil
	}

	if !cs.isTerminal() {
		return "", fmt.Errorf(
			"no password available for %s: pass --password, store one with --store-in-keyring, or run interactively",
			username)
	}

	return cs.prompt(fmt.Sprintf("Enter iCloud password for %s: ", username))
}

// promptPassword reads a password from the terminal without echo. The
// prompt goes to stderr so stdout stays clean for --only-print-filenames.
func promptPassword(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)

	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	return string(pw), nil
}

// terminalMFA prompts for the verification code on stdin. It is only wired
// when stdin is a terminal; unattended runs fail with
// icloud.ErrRequiresInteractive instead.
type terminalMFA struct{}

func (terminalMFA) Code(_ context.Context) (string, error) {
	fmt.Fprint(os.Stderr, "Please enter two-factor authentication code: ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading verification code: %w", err)
	}

	return strings.TrimSpace(line), nil
}

// runStoreInKeyring saves the account password in the system keyring so
// subsequent runs need neither --password nor a prompt.
func runStoreInKeyring() error {
	username := resolvedCfg.Auth.Username
	if username == "" {
		return fmt.Errorf("--username is required to store a password")
	}

	password := resolvedCfg.Auth.Password
	if password == "" {
		if !interactiveStdin() {
			return fmt.Errorf("no password to store: pass --password or run interactively")
		}

		var err error

		password, err = promptPassword(fmt.Sprintf("Enter iCloud password for %s: ", username))
		if err != nil {
			return err
		}
	}

	if err := icloud.StoreKeyringPassword(username, password); err != nil {
		return err
	}

	statusf(flagQuiet, "Password stored in keyring for %s.\n", username)

	return nil
}

// runDeleteFromKeyring removes the stored account password.
func runDeleteFromKeyring() error {
	username := resolvedCfg.Auth.Username
	if username == "" {
		return fmt.Errorf("--username is required to remove a stored password")
	}

	if err := icloud.DeleteKeyringPassword(username); err != nil {
		return err
	}

	statusf(flagQuiet, "Password removed from keyring for %s.\n", username)

	return nil
}
