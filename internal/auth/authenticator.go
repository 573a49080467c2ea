package auth

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/Will-Luck/Preauth-Sentinel/internal/clock"
	"github.com/Will-Luck/Preauth-Sentinel/internal/logging"
	"github.com/Will-Luck/Preauth-Sentinel/internal/metrics"
)

// totpSkew is the accepted clock drift in TOTP steps, either direction.
// Ten steps tolerates slow clocks and transit delay without meaningfully
// widening the guessing surface.
const totpSkew = 10

// Authenticator verifies a credential payload against the provisioned TOTP
// secret or the optional static password.
//
// Verification failures are deliberately indistinguishable: a wrong token, a
// wrong password, a spent nonce and a malformed payload all produce the same
// false result, so a caller cannot build an oracle from the responses.
type Authenticator struct {
	key          *otp.Key
	staticSecret string // empty disables the password branch; "$2..." is a bcrypt hash
	nonces       *NonceStore
	clk          clock.Clock
	log          *logging.Logger
}

// NewAuthenticator parses the TOTP provisioning URI and builds an
// authenticator. An unparseable URI is a configuration error and fails the
// boot.
func NewAuthenticator(totpURI, staticSecret string, nonces *NonceStore, clk clock.Clock, log *logging.Logger) (*Authenticator, error) {
	key, err := otp.NewKeyFromURL(totpURI)
	if err != nil {
		return nil, fmt.Errorf("parse TOTP provisioning URI: %w", err)
	}
	return &Authenticator{
		key:          key,
		staticSecret: staticSecret,
		nonces:       nonces,
		clk:          clk,
		log:          log,
	}, nil
}

// Verify checks the payload's credential and, on a match, spends its nonce.
// The bool is the entire answer; the error is reserved for backing-store
// failures, which must surface rather than admit traffic.
func (a *Authenticator) Verify(p *Payload) (bool, error) {
	if p == nil {
		return false, nil
	}

	var (
		ok  bool
		err error
	)
	switch {
	case p.Token != "":
		ok, err = a.verifyToken(p)
	case a.staticSecret != "":
		ok, err = a.verifyPassword(p)
	default:
		// Password offered but password auth is not configured.
		a.log.Debug("password login attempted while disabled")
	}
	if err != nil {
		return false, err
	}

	if ok {
		metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
	} else {
		metrics.LoginAttemptsTotal.WithLabelValues("failure").Inc()
	}
	return ok, nil
}

// verifyToken checks the TOTP code, then requires a currently-valid server
// nonce, spending it atomically with the success decision.
func (a *Authenticator) verifyToken(p *Payload) (bool, error) {
	valid, err := totp.ValidateCustom(p.Token, a.key.Secret(), a.clk.Now(), totp.ValidateOpts{
		Period:    uint(a.key.Period()),
		Skew:      totpSkew,
		Digits:    a.key.Digits(),
		Algorithm: a.key.Algorithm(),
	})
	if err != nil || !valid {
		a.log.Debug("token mismatch", "id", p.ID)
		return false, nil
	}

	spent, err := a.nonces.Consume(p.Nonce)
	if err != nil {
		return false, err
	}
	if !spent {
		a.log.Debug("token valid but nonce not consumable", "id", p.ID)
		return false, nil
	}
	return true, nil
}

// verifyPassword compares against the configured static secret. The nonce may
// be client-supplied here: valid-or-unseen is acceptable, spent is not.
func (a *Authenticator) verifyPassword(p *Payload) (bool, error) {
	if !a.secretMatches(p.Password) {
		a.log.Debug("password mismatch", "id", p.ID)
		return false, nil
	}

	spent, err := a.nonces.Adopt(p.Nonce)
	if err != nil {
		return false, err
	}
	if !spent {
		a.log.Debug("password valid but nonce already spent", "id", p.ID)
		return false, nil
	}
	return true, nil
}

func (a *Authenticator) secretMatches(password string) bool {
	if strings.HasPrefix(a.staticSecret, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(a.staticSecret), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(a.staticSecret), []byte(password)) == 1
}
