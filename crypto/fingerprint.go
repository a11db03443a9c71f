package crypto

import (
	"crypto/sha256"
	"fmt"
	"os"
	"os/user"
	"runtime"
	"strings"

	"github.com/jmcleod/gatekey/internal/util"
)

var machineKeyInfo = []byte("gatekey:machine:v1")

// Fingerprint is the set of stable machine attributes a credential is bound
// to. It is derived on demand and never persisted.
type Fingerprint struct {
	Hostname string
	OS       string
	Arch     string
	Username string
}

// HostFingerprint collects the current machine's attributes.
func HostFingerprint() (Fingerprint, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return Fingerprint{}, fmt.Errorf("reading hostname: %w", err)
	}

	username := ""
	if u, err := user.Current(); err == nil {
		username = u.Username
	}

	return Fingerprint{
		Hostname: hostname,
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		Username: username,
	}, nil
}

// digest returns the SHA-256 of the normalized, joined attributes.
func (f Fingerprint) digest() []byte {
	joined := strings.Join([]string{
		util.Normalize(f.Hostname),
		f.OS,
		f.Arch,
		util.Normalize(f.Username),
	}, "\x1f")
	sum := sha256.Sum256([]byte(joined))
	return sum[:]
}

// MachineKey expands the fingerprint digest into a 256-bit AES key via HKDF.
// Deterministic for one machine; a different machine yields a different key,
// which makes decryption of a foreign credential fail authentication.
func (f Fingerprint) MachineKey() ([]byte, error) {
	return util.HKDF(f.digest(), nil, machineKeyInfo)
}

// DeriveMachineKey is the common path: fingerprint the current host and
// expand its key. Recomputed on every call, never cached to disk.
func DeriveMachineKey() ([]byte, error) {
	fp, err := HostFingerprint()
	if err != nil {
		return nil, err
	}
	return fp.MachineKey()
}
