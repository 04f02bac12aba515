package btcwallet

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// DerivationPath is the internal representation of a hierarchical
// deterministic key path.
type DerivationPath []uint32

// ParseDerivationPath converts a derivation path string like m/84'/0'/0'/0/1
// to its binary representation.
func ParseDerivationPath(strPath string) (DerivationPath, error) {
	if strings.TrimSpace(strPath) == "" {
		return nil, fmt.Errorf("derivation path must not be null")
	}

	elems := strings.Split(strPath, "/")
	if strings.TrimSpace(elems[0]) == "m" {
		elems = elems[1:]
	}
	if len(elems) <= 0 {
		return nil, fmt.Errorf("malformed derivation path %q", strPath)
	}

	path := make(DerivationPath, 0, len(elems))
	for _, elem := range elems {
		elem = strings.TrimSpace(elem)
		if elem == "" {
			return nil, fmt.Errorf("malformed derivation path %q", strPath)
		}

		var value uint32
		if strings.HasSuffix(elem, "'") {
			value = hdkeychain.HardenedKeyStart
			elem = strings.TrimSpace(strings.TrimSuffix(elem, "'"))
		}

		bigval, ok := new(big.Int).SetString(elem, 0)
		if !ok {
			return nil, fmt.Errorf("invalid elem '%s' in path", elem)
		}
		max := math.MaxUint32 - value
		if bigval.Sign() < 0 || bigval.Cmp(big.NewInt(int64(max))) > 0 {
			if value == 0 {
				return nil, fmt.Errorf("elem %v must be in range [0, %d]", bigval, max)
			}
			return nil, fmt.Errorf("elem %v must be in hardened range [0, %d]", bigval, max)
		}
		path = append(path, value+uint32(bigval.Uint64()))
	}
	return path, nil
}

// String converts a binary derivation path to its canonical representation.
func (path DerivationPath) String() string {
	if len(path) <= 0 {
		return ""
	}

	result := "m"
	for _, component := range path {
		hardened := component >= hdkeychain.HardenedKeyStart
		if hardened {
			component -= hdkeychain.HardenedKeyStart
		}
		result = fmt.Sprintf("%s/%d", result, component)
		if hardened {
			result += "'"
		}
	}
	return result
}

// Extend returns a copy of the path with the given steps appended.
func (path DerivationPath) Extend(steps ...uint32) DerivationPath {
	extended := make(DerivationPath, 0, len(path)+len(steps))
	extended = append(extended, path...)
	return append(extended, steps...)
}

func deriveKey(
	master *hdkeychain.ExtendedKey, path DerivationPath,
) (*hdkeychain.ExtendedKey, error) {
	key := master
	for _, step := range path {
		var err error
		if key, err = key.Derive(step); err != nil {
			return nil, fmt.Errorf("failed to derive %s: %w", path, err)
		}
	}
	return key, nil
}
