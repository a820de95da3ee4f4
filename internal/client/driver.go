package client

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// AccountType identifies which driver backs an account.
type AccountType string

const (
	TypeWhatsApp AccountType = "whatsapp"
	TypeTelegram AccountType = "telegram"
)

// Driver constructs clients for one account type. DataDir is the account's
// private directory (credential store, caches).
type Driver interface {
	New(accountID, dataDir string, logger *zap.Logger) (Client, error)
}

// Drivers is a registry of account-type drivers. The daemon registers
// concrete drivers at wiring time; tests register fakes.
type Drivers struct {
	mu sync.RWMutex
	m  map[AccountType]Driver
}

// NewDrivers creates an empty driver registry.
func NewDrivers() *Drivers {
	return &Drivers{m: make(map[AccountType]Driver)}
}

// Register binds a driver to an account type, replacing any previous binding.
func (d *Drivers) Register(t AccountType, drv Driver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[t] = drv
}

// Get returns the driver for an account type.
func (d *Drivers) Get(t AccountType) (Driver, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	drv, ok := d.m[t]
	if !ok {
		return nil, fmt.Errorf("no driver registered for account type %q", t)
	}
	return drv, nil
}
