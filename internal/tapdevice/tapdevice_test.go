//go:build linux

package tapdevice

import (
	"os"
	"testing"
	"unsafe"
)

func TestHardwareAddrDeterministic(t *testing.T) {
	t.Parallel()

	a := HardwareAddr("fboss7")
	b := HardwareAddr("fboss7")
	if a.String() != b.String() {
		t.Errorf("HardwareAddr not deterministic: %s != %s", a, b)
	}

	c := HardwareAddr("fboss8")
	if a.String() == c.String() {
		t.Errorf("HardwareAddr collided for distinct names: %s", a)
	}
}

func TestHardwareAddrLocallyAdministeredUnicast(t *testing.T) {
	t.Parallel()

	mac := HardwareAddr("fboss1")
	if mac[0]&0x02 == 0 {
		t.Errorf("expected locally-administered bit set, got %02x", mac[0])
	}
	if mac[0]&0x01 != 0 {
		t.Errorf("expected unicast bit clear, got %02x", mac[0])
	}
}

func TestHeaderSizeByFraming(t *testing.T) {
	t.Parallel()

	tap := &Device{ethernet: true}
	if got := tap.headerSize(false); got != EthHdrSizeUntagged {
		t.Errorf("tap untagged header = %d, want %d", got, EthHdrSizeUntagged)
	}
	if got := tap.headerSize(true); got != EthHdrSizeTagged {
		t.Errorf("tap tagged header = %d, want %d", got, EthHdrSizeTagged)
	}

	tun := &Device{ethernet: false}
	if got := tun.headerSize(true); got != 0 {
		t.Errorf("tun header = %d, want 0", got)
	}
}

// TestOpenAndClose exercises the real /dev/net/tun path. It is skipped
// outside a privileged, namespace-capable environment (CAP_NET_ADMIN),
// which most CI sandboxes are not.
func TestOpenAndClose(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("requires CAP_NET_ADMIN to open /dev/net/tun")
	}

	dev, err := Open("fbosstest0", false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer dev.Close()

	if dev.Fd() < 0 {
		t.Errorf("expected a valid fd, got %d", dev.Fd())
	}
	if dev.Name() != "fbosstest0" {
		t.Errorf("Name() = %q, want fbosstest0", dev.Name())
	}

	if err := dev.SetMTU(1400); err != nil {
		t.Errorf("SetMTU: %v", err)
	}

	if err := dev.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got: %v", err)
	}
}

func TestIoctlUnknownFD(t *testing.T) {
	t.Parallel()

	var req ifReq
	if err := ioctl(-1, tunsetiff, unsafe.Pointer(&req)); err == nil {
		t.Errorf("expected an error ioctl-ing fd -1")
	}
}
