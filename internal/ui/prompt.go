package ui

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/sebetc4/zimnica/internal/system"
)

// PromptString prompts for a string input
func PromptString(prompt string) string {
	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

// PromptStringWithDefault prompts for a string with a default value
func PromptStringWithDefault(prompt, defaultValue string) string {
	fmt.Fprintf(os.Stderr, "%s [%s]: ", prompt, defaultValue)
	reader := bufio.NewReader(os.Stdin)
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultValue
	}
	return input
}

// PromptPassword prompts for a passphrase without echoing.
// Caller is responsible for calling Zeroize() on the result.
func PromptPassword(prompt string) (*system.SecureBytes, error) {
	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	return system.NewSecureBytes(password), nil
}

// PromptNewPassword prompts for a passphrase twice and verifies both
// entries match. Used before LUKS formatting.
func PromptNewPassword(prompt string) (*system.SecureBytes, error) {
	password, err := PromptPassword(prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}

	confirm, err := PromptPassword("Confirm passphrase")
	if err != nil {
		password.Zeroize()
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	defer confirm.Zeroize()

	if password.String() != confirm.String() {
		password.Zeroize()
		return nil, fmt.Errorf("passphrases don't match")
	}
	return password, nil
}

// PromptConfirm prompts for yes/no confirmation, defaulting to no.
func PromptConfirm(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	input, _ := reader.ReadString('\n')
	input = strings.ToLower(strings.TrimSpace(input))
	return input == "y" || input == "yes"
}

// PromptConfirmExact requires the operator to type an exact phrase.
// Used before irreversible disk operations, where a stray "y" must
// not be enough.
func PromptConfirmExact(prompt, phrase string) bool {
	fmt.Fprintf(os.Stderr, "%s\nType '%s' to continue: ", prompt, phrase)
	reader := bufio.NewReader(os.Stdin)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input) == phrase
}
