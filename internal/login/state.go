package login

import (
	"fmt"
	"time"

	"github.com/staticms/authcore/internal/crypto"
)

// stateTTL bounds how long an authorize round-trip may take
const stateTTL = 10 * time.Minute

type stateClaims struct {
	Nonce string `json:"nonce"`
}

// NewStateSigner builds the signer for OAuth state tokens. Login and callback
// must share the same secret so a state minted here verifies there.
func NewStateSigner(secret []byte) crypto.TokenSigner {
	return crypto.NewTokenSigner(secret, stateTTL)
}

// NewState mints a signed, expiring state token around a random nonce
func NewState(signer *crypto.TokenSigner) (string, error) {
	nonce, err := crypto.GenerateSecureToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate state nonce: %w", err)
	}
	return signer.Sign(stateClaims{Nonce: nonce})
}

// VerifyState checks a state token's signature and expiry
func VerifyState(signer *crypto.TokenSigner, state string) error {
	var claims stateClaims
	return signer.Verify(state, &claims)
}
