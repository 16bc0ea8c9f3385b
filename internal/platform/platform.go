// Package platform supplies the stable installation identifier used to
// key this device's registration on the backend.
//
// An identifier is never generated locally. If the host cannot supply one
// the provider reports it as unavailable and registration is refused.
package platform

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/watchme-core/internal/infrastructure/config"
)

// Provider returns the installation identifier, or false when the host
// cannot supply one.
type Provider interface {
	Identifier(ctx context.Context) (string, bool)
}

// Static returns a fixed identifier handed over by the host application.
type Static string

// Identifier implements Provider. An empty Static is unavailable.
func (s Static) Identifier(context.Context) (string, bool) {
	id := Normalize(string(s))
	return id, id != ""
}

// linuxIDFiles are tried in order; the first non-empty one wins.
var linuxIDFiles = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
	"/sys/class/dmi/id/product_uuid",
}

// ioregTimeout bounds the darwin ioreg lookup.
const ioregTimeout = 5 * time.Second

// MachineID reads the operating system's machine identifier.
type MachineID struct {
	goos     string
	readFile func(string) ([]byte, error)
	command  func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewMachineID returns a provider for the running OS.
func NewMachineID() *MachineID {
	return &MachineID{
		goos:     runtime.GOOS,
		readFile: os.ReadFile,
		command: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).Output()
		},
	}
}

// Identifier implements Provider.
func (m *MachineID) Identifier(ctx context.Context) (string, bool) {
	var raw string
	switch m.goos {
	case "linux":
		raw = m.linux()
	case "darwin":
		raw = m.darwin(ctx)
	}
	id := Normalize(raw)
	return id, id != ""
}

func (m *MachineID) linux() string {
	for _, path := range linuxIDFiles {
		data, err := m.readFile(path)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}
	return ""
}

func (m *MachineID) darwin(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, ioregTimeout)
	defer cancel()

	out, err := m.command(ctx, "ioreg", "-rd1", "-c", "IOPlatformExpertDevice")
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, "IOPlatformUUID") {
			continue
		}
		// "IOPlatformUUID" = "6F9619FF-8B86-D011-B42D-00C04FC964FF"
		parts := strings.Split(line, "\"")
		if len(parts) >= 4 {
			return parts[3]
		}
	}
	return ""
}

// Normalize trims raw and, when it parses as a UUID, returns the
// upper-case hyphenated form. Other values are returned trimmed.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if u, err := uuid.Parse(raw); err == nil {
		return strings.ToUpper(u.String())
	}
	return raw
}

// FromConfig selects the provider named by cfg.Source.
func FromConfig(cfg config.PlatformConfig) Provider {
	if cfg.Source == "static" {
		return Static(cfg.Identifier)
	}
	return NewMachineID()
}

// Prefix shortens an identifier for log output.
func Prefix(id string) string {
	const n = 8
	if len(id) <= n {
		return id
	}
	return id[:n] + "..."
}
