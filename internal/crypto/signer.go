package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/setrebalancer/internal/domain"
)

// Signer signs transactions for a single operator account on one chain.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	signer     types.Signer
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the chain ID transactions are replay-protected for.
func NewSigner(privateKeyHex string, chainID int64) (*Signer, error) {
	pk, err := ParseKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	return NewSignerFromKey(pk, chainID)
}

// NewSignerFromKey creates a Signer for an already loaded key.
func NewSignerFromKey(pk *ecdsa.PrivateKey, chainID int64) (*Signer, error) {
	if chainID <= 0 {
		return nil, fmt.Errorf("crypto/signer: chain id must be positive, got %d", chainID)
	}
	id := big.NewInt(chainID)
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    id,
		signer:     types.LatestSignerForChainID(id),
	}, nil
}

// Address returns the account the signer controls.
func (s *Signer) Address() common.Address {
	return s.address
}

// ChainID returns the chain the signer signs for.
func (s *Signer) ChainID() *big.Int {
	return new(big.Int).Set(s.chainID)
}

// SignTx signs tx with the latest signer for the chain.
func (s *Signer) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, s.signer, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: %w: %v", domain.ErrSigningFailed, err)
	}
	return signed, nil
}

// Sender recovers the sender of a signed transaction.
func (s *Signer) Sender(tx *types.Transaction) (common.Address, error) {
	return types.Sender(s.signer, tx)
}
