package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/septivank/raven-tracer/internal/db"
	"go.uber.org/zap"
)

// Store is the identity table contract, satisfied by both repositories
type Store interface {
	DeviceExists(ctx context.Context, kind db.DeviceKind, mac string) (bool, error)
	InsertDevice(ctx context.Context, kind db.DeviceKind, device db.Device) error
	UpdateDeviceNick(ctx context.Context, kind db.DeviceKind, mac string, nick *string) error
	ListDevices(ctx context.Context, kind db.DeviceKind) ([]db.Device, error)
}

// Registry maintains the identity records of one device kind
type Registry struct {
	store  Store
	kind   db.DeviceKind
	logger *zap.Logger

	mu    sync.Mutex
	cache []db.Device
}

// New creates a registry for ravens or smart meters
func New(store Store, kind db.DeviceKind, logger *zap.Logger) *Registry {
	return &Registry{
		store:  store,
		kind:   kind,
		logger: logger.With(zap.String("device_kind", string(kind))),
	}
}

// Kind returns the device kind this registry manages
func (r *Registry) Kind() db.DeviceKind {
	return r.kind
}

// IsKnown reports whether mac already has an identity record
func (r *Registry) IsKnown(ctx context.Context, mac string) (bool, error) {
	known, err := r.store.DeviceExists(ctx, r.kind, mac)
	if err != nil {
		return false, fmt.Errorf("failed to look up %s %s: %w", r.kind, mac, err)
	}
	return known, nil
}

// Register creates the identity record for mac. Registering a MAC that is
// already present returns an error wrapping db.ErrDuplicateDevice and leaves
// the stored record untouched.
func (r *Registry) Register(ctx context.Context, mac string, nick *string) error {
	err := r.store.InsertDevice(ctx, r.kind, db.Device{MACAddress: mac, Nick: nick})
	if errors.Is(err, db.ErrDuplicateDevice) {
		r.logger.Warn("device already registered", zap.String("mac_address", mac))
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to register %s %s: %w", r.kind, mac, err)
	}

	r.invalidate()
	r.logger.Info("registered new device", zap.String("mac_address", mac))
	return nil
}

// Ensure registers mac without a nickname unless it is already known
func (r *Registry) Ensure(ctx context.Context, mac string) error {
	known, err := r.IsKnown(ctx, mac)
	if err != nil {
		return err
	}
	if known {
		return nil
	}

	err = r.Register(ctx, mac, nil)
	if errors.Is(err, db.ErrDuplicateDevice) {
		// registered between the lookup and the insert
		return nil
	}
	return err
}

// Rename sets the nickname of a known device; nil clears it
func (r *Registry) Rename(ctx context.Context, mac string, nick *string) error {
	if err := r.store.UpdateDeviceNick(ctx, r.kind, mac, nick); err != nil {
		return fmt.Errorf("failed to rename %s %s: %w", r.kind, mac, err)
	}
	r.invalidate()
	return nil
}

// List returns every identity record of this kind. Results are cached until
// the next Register or Rename.
func (r *Registry) List(ctx context.Context) ([]db.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cache != nil {
		return append([]db.Device(nil), r.cache...), nil
	}

	devices, err := r.store.ListDevices(ctx, r.kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", r.kind, err)
	}
	if devices == nil {
		devices = []db.Device{}
	}
	r.cache = devices

	return append([]db.Device(nil), devices...), nil
}

func (r *Registry) invalidate() {
	r.mu.Lock()
	r.cache = nil
	r.mu.Unlock()
}
