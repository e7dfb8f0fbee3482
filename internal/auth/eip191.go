package auth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const signatureLen = 65

// HashMessage is the EIP-191 personal_sign digest of msg.
func HashMessage(msg []byte) []byte {
	return accounts.TextHash(msg)
}

// RecoverAddress returns the wallet that produced sigHex over msg. The
// signature is R || S || V with or without a 0x prefix; V may be 0/1 or 27/28.
func RecoverAddress(msg []byte, sigHex string) (common.Address, error) {
	sig := common.FromHex(sigHex)
	if len(sig) != signatureLen {
		return common.Address{}, errors.New("invalid signature length")
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(HashMessage(msg), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("ecrecover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignMessage produces the 0x-prefixed signature a wallet would return from
// personal_sign, with V in {27,28}.
func SignMessage(msg []byte, key *ecdsa.PrivateKey) (string, error) {
	sig, err := crypto.Sign(HashMessage(msg), key)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}
