package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

const SchemaVersion = 1

var ErrStateNotFound = errors.New("auth state not found")

// MQTTCredentials are the per-account client certificates for the broker.
type MQTTCredentials struct {
	ThingName      string `json:"thing_name"`
	CertificatePEM string `json:"certificate_pem"`
	PrivateKeyPEM  string `json:"private_key_pem"`
	Endpoint       string `json:"endpoint"`
	Port           int    `json:"port,omitempty"`
}

func (m *MQTTCredentials) Complete() bool {
	return m != nil && m.ThingName != "" && m.CertificatePEM != "" && m.PrivateKeyPEM != "" && m.Endpoint != ""
}

// Bootstrap holds account credentials seeded by the operator.
type Bootstrap struct {
	SchemaVersion int              `json:"schema_version,omitempty"`
	Email         string           `json:"email"`
	Password      string           `json:"password"`
	OpenUDID      string           `json:"openudid"`
	UserID        string           `json:"user_id,omitempty"`
	MQTT          *MQTTCredentials `json:"mqtt,omitempty"`
}

// State is the persisted session between restarts.
type State struct {
	SchemaVersion   int       `json:"schema_version"`
	AccessToken     string    `json:"access_token"`
	UserCenterToken string    `json:"user_center_token,omitempty"`
	GToken          string    `json:"gtoken,omitempty"`
	UserID          string    `json:"user_id,omitempty"`
	ExpiresAt       time.Time `json:"expires_at"`
}

func LoadBootstrap(path string) (Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Bootstrap{}, fmt.Errorf("read bootstrap: %w", err)
	}
	return DecodeBootstrap(data)
}

func DecodeBootstrap(data []byte) (Bootstrap, error) {
	var b Bootstrap
	if err := json.Unmarshal(data, &b); err != nil {
		return Bootstrap{}, fmt.Errorf("decode bootstrap: %w", err)
	}
	if err := b.Validate(); err != nil {
		return Bootstrap{}, err
	}
	return b, nil
}

func (b Bootstrap) Validate() error {
	if b.SchemaVersion != 0 && b.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported bootstrap schema_version: %d", b.SchemaVersion)
	}
	if b.Email == "" {
		return fmt.Errorf("bootstrap missing email")
	}
	if b.Password == "" {
		return fmt.Errorf("bootstrap missing password")
	}
	if b.OpenUDID == "" {
		return fmt.Errorf("bootstrap missing openudid")
	}
	return nil
}

// WriteBootstrap writes b with owner-only permissions.
func WriteBootstrap(path string, b Bootstrap) error {
	if b.SchemaVersion == 0 {
		b.SchemaVersion = SchemaVersion
	}
	if err := b.Validate(); err != nil {
		return err
	}
	return writeJSON(path, b)
}

func LoadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, ErrStateNotFound
		}
		return State{}, fmt.Errorf("read state: %w", err)
	}
	return DecodeState(data)
}

func DecodeState(data []byte) (State, error) {
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("decode state: %w", err)
	}
	if err := state.Validate(); err != nil {
		return State{}, err
	}
	return state, nil
}

func (s State) Validate() error {
	if s.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema_version: %d", s.SchemaVersion)
	}
	if s.AccessToken == "" {
		return fmt.Errorf("state missing access_token")
	}
	return nil
}

func WriteState(path string, state State) error {
	if state.SchemaVersion == 0 {
		state.SchemaVersion = SchemaVersion
	}
	return writeJSON(path, state)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir state dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

func checkStateFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm() != 0o600 {
		return fmt.Errorf("state file %s must have 0600 permissions", path)
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if int(stat.Uid) != os.Geteuid() {
			return fmt.Errorf("state file %s must be owned by uid %d", path, os.Geteuid())
		}
	}
	return nil
}
