package bridge

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/vandry/ruuvi-bridge/errors"
)

// Locator supplies the path of the current byte-stream device.
type Locator interface {
	// Locate returns the device node to read from, or ErrDeviceNotFound
	// when no matching device is present.
	Locate() (string, error)
}

// TTYLocator scans a sysfs tty class directory for a USB serial bridge
// matching a vendor/product identity pair, and maps the match to its
// device node.
type TTYLocator struct {
	Root      string // tty class directory, e.g. /sys/class/tty
	DevDir    string // device node directory, e.g. /dev
	VendorID  string // e.g. "2341"
	ProductID string // e.g. "8054"
}

var _ Locator = (*TTYLocator)(nil)

// Locate returns the device node of the first matching tty.
func (l *TTYLocator) Locate() (string, error) {
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		return "", errors.WrapTransient(err, "TTYLocator", "Locate", "scan device tree")
	}

	for _, entry := range entries {
		if l.matches(filepath.Join(l.Root, entry.Name())) {
			return filepath.Join(l.DevDir, entry.Name()), nil
		}
	}
	return "", errors.ErrDeviceNotFound
}

// matches checks the USB identity files one level above the tty's device
// interface. The "/.." must be resolved by the kernel after following the
// "device" symlink, so the path cannot be joined with lexical cleaning.
func (l *TTYLocator) matches(prefix string) bool {
	deviceDir := filepath.Join(prefix, "device")

	vendor, err := os.ReadFile(deviceDir + "/../idVendor")
	if err != nil || strings.TrimSuffix(string(vendor), "\n") != l.VendorID {
		return false
	}

	product, err := os.ReadFile(deviceDir + "/../idProduct")
	return err == nil && strings.TrimSuffix(string(product), "\n") == l.ProductID
}
