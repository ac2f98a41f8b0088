package settings

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/BurntSushi/toml"

	"github.com/yegors/voice-commander/internal/pipeline"
	"github.com/yegors/voice-commander/pkg/logger"
)

// DefaultEndpointURL is a placeholder until the operator sets the tunnel URL
const DefaultEndpointURL = "https://example.ngrok-free.app/command"

// file is the on-disk layout
type file struct {
	EndpointURL  *string `toml:"endpoint_url"`
	SendCommands *bool   `toml:"send_commands"`

	// NgrokURL is read from files written before endpoint_url existed
	NgrokURL *string `toml:"ngrok_url,omitempty"`
}

// Store persists the delivery settings and hands out immutable snapshots.
// Readers never lock; writers replace the whole snapshot.
type Store struct {
	path    string
	current atomic.Pointer[pipeline.Snapshot]
	writeMu sync.Mutex
	logger  *logger.Logger
}

// Default returns the settings used when no file exists yet
func Default() pipeline.Snapshot {
	return pipeline.Snapshot{EndpointURL: DefaultEndpointURL, DeliveryEnabled: true}
}

// Open loads the settings at path, falling back to defaults if the file does
// not exist
func Open(path string, log *logger.Logger) (*Store, error) {
	s := &Store{path: path, logger: log.Named("settings")}

	snap, err := s.load()
	if err != nil {
		return nil, err
	}
	s.current.Store(&snap)

	s.logger.Info("Loaded delivery settings",
		logger.String("path", path),
		logger.String("endpoint_url", snap.EndpointURL),
		logger.Bool("send_commands", snap.DeliveryEnabled))

	return s, nil
}

func (s *Store) load() (pipeline.Snapshot, error) {
	snap := Default()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return snap, nil
	}
	if err != nil {
		return snap, fmt.Errorf("failed to read settings: %w", err)
	}

	var f file
	if _, err := toml.Decode(string(data), &f); err != nil {
		return snap, fmt.Errorf("failed to parse settings %s: %w", s.path, err)
	}
	switch {
	case f.EndpointURL != nil:
		snap.EndpointURL = *f.EndpointURL
	case f.NgrokURL != nil:
		snap.EndpointURL = *f.NgrokURL
	}
	if f.SendCommands != nil {
		snap.DeliveryEnabled = *f.SendCommands
	}

	if err := Validate(snap); err != nil {
		return snap, fmt.Errorf("invalid settings in %s: %w", s.path, err)
	}
	return snap, nil
}

// Snapshot returns the current settings
func (s *Store) Snapshot() pipeline.Snapshot {
	return *s.current.Load()
}

// Replace validates, persists and publishes a new snapshot. The old snapshot
// stays in effect if anything fails.
func (s *Store) Replace(snap pipeline.Snapshot) error {
	if err := Validate(snap); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.replaceLocked(snap)
}

func (s *Store) replaceLocked(snap pipeline.Snapshot) error {
	if err := s.persist(snap); err != nil {
		return err
	}
	s.current.Store(&snap)

	s.logger.Info("Delivery settings updated",
		logger.String("endpoint_url", snap.EndpointURL),
		logger.Bool("send_commands", snap.DeliveryEnabled))
	return nil
}

// SetEndpoint replaces the endpoint, keeping the delivery flag
func (s *Store) SetEndpoint(endpointURL string) error {
	return s.Update(func(snap *pipeline.Snapshot) { snap.EndpointURL = endpointURL })
}

// SetDeliveryEnabled toggles sending, keeping the endpoint
func (s *Store) SetDeliveryEnabled(enabled bool) error {
	return s.Update(func(snap *pipeline.Snapshot) { snap.DeliveryEnabled = enabled })
}

// Update applies mutate to a copy of the current snapshot and replaces it.
// Concurrent updates are serialized.
func (s *Store) Update(mutate func(*pipeline.Snapshot)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap := s.Snapshot()
	mutate(&snap)
	if err := Validate(snap); err != nil {
		return err
	}
	return s.replaceLocked(snap)
}

// persist writes through a temp file so a crash never leaves a torn file
func (s *Store) persist(snap pipeline.Snapshot) error {
	var buf bytes.Buffer
	endpoint, enabled := snap.EndpointURL, snap.DeliveryEnabled
	if err := toml.NewEncoder(&buf).Encode(file{EndpointURL: &endpoint, SendCommands: &enabled}); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close settings file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}

// ErrInvalidSettings is wrapped by every Validate failure
var ErrInvalidSettings = errors.New("invalid settings")

// Validate checks that an enabled delivery has a usable endpoint
func Validate(snap pipeline.Snapshot) error {
	if snap.EndpointURL == "" {
		if snap.DeliveryEnabled {
			return fmt.Errorf("%w: endpoint_url is required when send_commands is enabled", ErrInvalidSettings)
		}
		return nil
	}
	u, err := url.Parse(snap.EndpointURL)
	if err != nil {
		return fmt.Errorf("%w: endpoint_url: %v", ErrInvalidSettings, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: endpoint_url must be http or https, got %q", ErrInvalidSettings, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: endpoint_url has no host", ErrInvalidSettings)
	}
	return nil
}
