package auth

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/rotisserie/eris"
)

// ChallengePrefix starts every wallet challenge message.
const ChallengePrefix = "shield-auth"

// Challenge returns the message a wallet signs to authenticate at t.
func Challenge(address string, t time.Time) string {
	return ChallengePrefix + ":" + strings.ToLower(address) + ":" + strconv.FormatInt(t.Unix(), 10)
}

// Wallet verifies EIP-191 personal_sign signatures over a challenge of the
// form "shield-auth:<address>:<unix seconds>".
type Wallet struct {
	roles  Roles
	maxAge time.Duration
	now    func() time.Time
}

// NewWallet returns a wallet provider. Challenges older than maxAge are
// refused; zero means five minutes.
func NewWallet(roles Roles, maxAge time.Duration) *Wallet {
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &Wallet{roles: roles, maxAge: maxAge, now: time.Now}
}

// Canonical returns the EIP-55 checksum form of a hex address, or "" when
// identity is not one.
func Canonical(identity string) string {
	if !common.IsHexAddress(identity) {
		return ""
	}
	return common.HexToAddress(identity).Hex()
}

// VerifyCaller returns the checksummed address that signed the challenge.
// Any letter case of the address verifies to the same identity.
func (w *Wallet) VerifyCaller(_ context.Context, cred Credential) (string, error) {
	claimed := Canonical(cred.Identity)
	if claimed == "" {
		return "", eris.Wrap(ErrInvalidCredential, "wallet: identity is not an address")
	}
	if err := w.checkChallenge(claimed, cred.Message); err != nil {
		return "", err
	}

	sig, err := hexutil.Decode(cred.Signature)
	if err != nil || len(sig) != ethcrypto.SignatureLength {
		return "", eris.Wrap(ErrInvalidCredential, "wallet: malformed signature")
	}
	// Wallets report v as 27/28; recovery wants 0/1.
	if sig[ethcrypto.RecoveryIDOffset] >= 27 {
		sig[ethcrypto.RecoveryIDOffset] -= 27
	}

	pub, err := ethcrypto.SigToPub(accounts.TextHash([]byte(cred.Message)), sig)
	if err != nil {
		return "", nil
	}
	signer := ethcrypto.PubkeyToAddress(*pub).Hex()
	if signer != claimed {
		return "", nil
	}
	return signer, nil
}

func (w *Wallet) checkChallenge(identity, msg string) error {
	parts := strings.Split(msg, ":")
	if len(parts) != 3 || parts[0] != ChallengePrefix {
		return eris.Wrap(ErrInvalidCredential, "wallet: malformed challenge")
	}
	if !strings.EqualFold(parts[1], identity) {
		return eris.Wrap(ErrInvalidCredential, "wallet: challenge names another address")
	}
	ts, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return eris.Wrap(ErrInvalidCredential, "wallet: challenge timestamp")
	}
	age := w.now().Sub(time.Unix(ts, 0))
	if age > w.maxAge || age < -w.maxAge {
		return eris.Wrap(ErrInvalidCredential, "wallet: challenge expired")
	}
	return nil
}

func (w *Wallet) Permission(_ context.Context, identity string, a Action) bool {
	return w.roles.Allows(identity, a)
}
