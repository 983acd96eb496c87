package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/majorcontext/strata/internal/credential/keyring"
	"github.com/majorcontext/strata/internal/ui"
)

var keychainShow bool

var keychainCmd = &cobra.Command{
	Use:   "keychain",
	Short: "Manage repository passwords in the OS keychain",
	Long: `Store repository passwords in the operating system's credential store
(macOS Keychain, Secret Service on Linux, Windows Credential Manager).
Reference a stored password from strata.yaml with:

  keychain_account: <account>`,
}

var keychainStoreCmd = &cobra.Command{
	Use:   "store <account>",
	Short: "Store a password (read from the terminal or stdin)",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeychainStore,
}

var keychainGetCmd = &cobra.Command{
	Use:   "get <account>",
	Short: "Check that a password is stored",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeychainGet,
}

var keychainDeleteCmd = &cobra.Command{
	Use:   "delete <account>",
	Short: "Remove a stored password",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeychainDelete,
}

func init() {
	rootCmd.AddCommand(keychainCmd)
	keychainCmd.AddCommand(keychainStoreCmd, keychainGetCmd, keychainDeleteCmd)
	keychainGetCmd.Flags().BoolVar(&keychainShow, "show", false, "print the password to stdout")
}

func runKeychainStore(cmd *cobra.Command, args []string) error {
	pw, err := readPassword()
	if err != nil {
		return err
	}
	store := keyring.New()
	if err := store.Store(args[0], pw); err != nil {
		return err
	}
	fmt.Printf("%s stored password for %q (service %s)\n", ui.OKTag(), args[0], store.Service())
	return nil
}

// readPassword prompts twice on a terminal, or reads one line from a
// pipe.
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("reading password from stdin: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	fmt.Fprint(os.Stderr, "Repeat password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

func runKeychainGet(cmd *cobra.Command, args []string) error {
	pw, err := keyring.New().Retrieve(args[0])
	if err != nil {
		return err
	}
	if keychainShow {
		fmt.Println(pw)
		return nil
	}
	fmt.Printf("%s password for %q is stored (%d characters; use --show to print it)\n", ui.OKTag(), args[0], len([]rune(pw)))
	return nil
}

func runKeychainDelete(cmd *cobra.Command, args []string) error {
	if dryRun {
		fmt.Printf("Would delete the password for %q\n", args[0])
		return nil
	}
	if err := keyring.New().Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("%s deleted password for %q\n", ui.OKTag(), args[0])
	return nil
}
