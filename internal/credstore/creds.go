package credstore

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"

	"go.uber.org/zap"
	"golang.org/x/crypto/curve25519"
)

// KeyPair is an x25519 key pair, base64 on the wire.
type KeyPair struct {
	Public  []byte `json:"public"`
	Private []byte `json:"private"`
}

// SignedPreKey is a pre-key signed by the identity key.
type SignedPreKey struct {
	KeyPair   KeyPair `json:"keyPair"`
	KeyID     uint32  `json:"keyId"`
	Signature []byte  `json:"signature"`
}

// AuthCreds is the primary credential document for one session. The
// orchestrator treats it as opaque apart from Registered and Me.
type AuthCreds struct {
	NoiseKey                KeyPair      `json:"noiseKey"`
	PairingEphemeralKeyPair KeyPair      `json:"pairingEphemeralKeyPair"`
	SignedIdentityKey       KeyPair      `json:"signedIdentityKey"`
	IdentitySigningKey      []byte       `json:"identitySigningKey"`
	SignedPreKey            SignedPreKey `json:"signedPreKey"`
	RegistrationID          uint32       `json:"registrationId"`
	AdvSecretKey            string       `json:"advSecretKey"`
	NextPreKeyID            uint32       `json:"nextPreKeyId"`
	FirstUnuploadedPreKeyID uint32       `json:"firstUnuploadedPreKeyId"`
	AccountSyncCounter      int          `json:"accountSyncCounter"`
	Registered              bool         `json:"registered"`
	// Me is filled once the device has paired.
	Me *DeviceIdentity `json:"me,omitempty"`
}

// DeviceIdentity is the authenticated self identity.
type DeviceIdentity struct {
	JID   string `json:"id"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// State is what the protocol client consumes: the credential document
// plus the bulk key accessor.
type State struct {
	Creds *AuthCreds
	Keys  *Store

	store *Store
}

// SaveCreds persists the current credential document.
func (st *State) SaveCreds() {
	st.store.Write(CredsName, st.Creds)
}

// Load reads the primary credential document, synthesizing fresh
// material on first initialization.
func (s *Store) Load() (*State, error) {
	st := &State{Keys: s, store: s}
	if raw := s.Read(CredsName); raw != nil {
		creds := new(AuthCreds)
		if err := json.Unmarshal(raw, creds); err == nil {
			st.Creds = creds
			return st, nil
		}
		zap.L().Warn("credstore: stored creds unreadable, regenerating",
			zap.String("session_id", s.sessionID))
	}
	creds, err := initAuthCreds()
	if err != nil {
		return nil, err
	}
	st.Creds = creds
	s.Write(CredsName, creds)
	return st, nil
}

func generateKeyPair() (KeyPair, error) {
	priv := make([]byte, 32)
	if _, err := rand.Read(priv); err != nil {
		return KeyPair{}, err
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// initAuthCreds synthesizes a fresh credential document: x25519 noise
// and identity exchange keys, an ed25519 signing key, one signed
// pre-key and a 14-bit registration id.
func initAuthCreds() (*AuthCreds, error) {
	noise, err := generateKeyPair()
	if err != nil {
		return nil, err
	}
	pairing, err := generateKeyPair()
	if err != nil {
		return nil, err
	}
	identity, err := generateKeyPair()
	if err != nil {
		return nil, err
	}
	_, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	preKey, err := generateKeyPair()
	if err != nil {
		return nil, err
	}
	// Signal-style prefixed public key as the signed payload.
	prefixed := append([]byte{5}, preKey.Public...)
	signature := ed25519.Sign(signPriv, prefixed)

	var regBytes [2]byte
	if _, err := rand.Read(regBytes[:]); err != nil {
		return nil, err
	}
	advSecret := make([]byte, 32)
	if _, err := rand.Read(advSecret); err != nil {
		return nil, err
	}

	return &AuthCreds{
		NoiseKey:                noise,
		PairingEphemeralKeyPair: pairing,
		SignedIdentityKey:       identity,
		IdentitySigningKey:      signPriv,
		SignedPreKey: SignedPreKey{
			KeyPair:   preKey,
			KeyID:     1,
			Signature: signature,
		},
		RegistrationID:          uint32(binary.BigEndian.Uint16(regBytes[:]) & 16383),
		AdvSecretKey:            base64.StdEncoding.EncodeToString(advSecret),
		NextPreKeyID:            1,
		FirstUnuploadedPreKeyID: 1,
		AccountSyncCounter:      0,
		Registered:              false,
	}, nil
}

type appStateKeyFingerprint struct {
	RawID         uint32 `json:"rawId"`
	CurrentIndex  uint32 `json:"currentIndex"`
	DeviceIndexes []int  `json:"deviceIndexes"`
}

type appStateSyncKey struct {
	KeyData     []byte                 `json:"keyData"`
	Fingerprint appStateKeyFingerprint `json:"fingerprint"`
	Timestamp   int64                  `json:"timestamp"`
}

// normalizeAppStateKey coerces a stored app-state sync key into the
// canonical shape the protocol client expects: defaulted fingerprint
// indexes and a numeric timestamp. Unreadable documents pass through
// unchanged.
func normalizeAppStateKey(raw json.RawMessage) json.RawMessage {
	var loose struct {
		KeyData     []byte `json:"keyData"`
		Fingerprint struct {
			RawID         uint32 `json:"rawId"`
			CurrentIndex  uint32 `json:"currentIndex"`
			DeviceIndexes []int  `json:"deviceIndexes"`
		} `json:"fingerprint"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &loose); err != nil {
		return raw
	}

	key := appStateSyncKey{
		KeyData: loose.KeyData,
		Fingerprint: appStateKeyFingerprint{
			RawID:         loose.Fingerprint.RawID,
			CurrentIndex:  loose.Fingerprint.CurrentIndex,
			DeviceIndexes: loose.Fingerprint.DeviceIndexes,
		},
	}
	if key.Fingerprint.DeviceIndexes == nil {
		key.Fingerprint.DeviceIndexes = []int{}
	}

	// Timestamp may arrive as a number or a numeric string.
	var asNum int64
	if err := json.Unmarshal(loose.Timestamp, &asNum); err == nil {
		key.Timestamp = asNum
	} else {
		var asStr string
		if err := json.Unmarshal(loose.Timestamp, &asStr); err == nil {
			key.Timestamp = parseInt64(asStr)
		}
	}

	out, err := json.Marshal(key)
	if err != nil {
		return raw
	}
	return out
}

func parseInt64(s string) int64 {
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + int64(c-'0')
	}
	return n
}
