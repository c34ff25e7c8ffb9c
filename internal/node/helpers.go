package node

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bsv-blockchain-demos/utility-tokens/internal/wallet"
	"github.com/bsv-blockchain-demos/utility-tokens/pkg/crypto"
)

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// unlockWallet decrypts the named keystore wallet and derives its identity
// key. The seed is wiped before returning.
func unlockWallet(keystoreDir, name string, password []byte) (*crypto.PrivateKey, error) {
	ks, err := wallet.NewKeystore(expandHome(keystoreDir))
	if err != nil {
		return nil, fmt.Errorf("open keystore: %w", err)
	}
	if !ks.Exists(name) {
		return nil, fmt.Errorf("%w: %q (create one with token-cli wallet create)", wallet.ErrWalletNotFound, name)
	}
	seed, err := ks.Load(name, password)
	if err != nil {
		return nil, err
	}
	defer func() {
		for i := range seed {
			seed[i] = 0
		}
	}()

	key, err := wallet.IdentityKeyFromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("derive identity key: %w", err)
	}
	return key, nil
}

// describeRemote renders a collaborator URL for logs.
func describeRemote(url string) string {
	if url == "" {
		return "local"
	}
	return url
}
