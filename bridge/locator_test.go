package bridge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vandry/ruuvi-bridge/errors"
)

// fakeDeviceTree builds a sysfs-like tty class directory where the tty's
// "device" entry is a symlink into a USB device directory holding the
// identity files, the way the kernel lays it out.
func fakeDeviceTree(t *testing.T, ttyName, vendor, product string) (root, devDir string) {
	t.Helper()
	base := t.TempDir()

	root = filepath.Join(base, "sys", "class", "tty")
	devDir = filepath.Join(base, "dev")
	usbDev := filepath.Join(base, "usb1")

	require.NoError(t, os.MkdirAll(filepath.Join(root, ttyName), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(usbDev, "iface"), 0o755))
	require.NoError(t, os.MkdirAll(devDir, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(usbDev, "idVendor"), []byte(vendor+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(usbDev, "idProduct"), []byte(product+"\n"), 0o644))

	// sys/class/tty/<name>/device -> ../../../usb1/iface
	require.NoError(t, os.Symlink(
		filepath.Join(base, "usb1", "iface"),
		filepath.Join(root, ttyName, "device")))

	return root, devDir
}

func TestTTYLocatorFindsMatchingDevice(t *testing.T) {
	root, devDir := fakeDeviceTree(t, "ttyACM0", "2341", "8054")

	l := &TTYLocator{Root: root, DevDir: devDir, VendorID: "2341", ProductID: "8054"}
	path, err := l.Locate()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(devDir, "ttyACM0"), path)
}

func TestTTYLocatorWrongVendor(t *testing.T) {
	root, devDir := fakeDeviceTree(t, "ttyACM0", "dead", "8054")

	l := &TTYLocator{Root: root, DevDir: devDir, VendorID: "2341", ProductID: "8054"}
	_, err := l.Locate()
	assert.ErrorIs(t, err, errors.ErrDeviceNotFound)
}

func TestTTYLocatorWrongProduct(t *testing.T) {
	root, devDir := fakeDeviceTree(t, "ttyACM0", "2341", "beef")

	l := &TTYLocator{Root: root, DevDir: devDir, VendorID: "2341", ProductID: "8054"}
	_, err := l.Locate()
	assert.ErrorIs(t, err, errors.ErrDeviceNotFound)
}

func TestTTYLocatorIgnoresTTYsWithoutDeviceLink(t *testing.T) {
	root, devDir := fakeDeviceTree(t, "ttyACM0", "2341", "8054")
	// A console tty with no underlying device must not match or break the scan.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "tty0"), 0o755))

	l := &TTYLocator{Root: root, DevDir: devDir, VendorID: "2341", ProductID: "8054"}
	path, err := l.Locate()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(devDir, "ttyACM0"), path)
}

func TestTTYLocatorMissingRoot(t *testing.T) {
	l := &TTYLocator{
		Root:      filepath.Join(t.TempDir(), "missing"),
		DevDir:    "/dev",
		VendorID:  "2341",
		ProductID: "8054",
	}
	_, err := l.Locate()
	require.Error(t, err)
	assert.NotErrorIs(t, err, errors.ErrDeviceNotFound)
}
