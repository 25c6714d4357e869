package peer_protocol

import (
	"testing"

	qt "github.com/go-quicktest/qt"
)

func TestExtensionBitLocations(t *testing.T) {
	var bits PeerExtensionBits
	bits.SetBit(ExtensionBitDht, true)
	qt.Assert(t, qt.Equals(bits[7], byte(0x01)))
	bits.SetBit(ExtensionBitFast, true)
	qt.Assert(t, qt.Equals(bits[7], byte(0x05)))
	bits.SetBit(ExtensionBitLtep, true)
	qt.Assert(t, qt.Equals(bits[5], byte(0x10)))
	qt.Check(t, qt.IsTrue(bits.SupportsDHT()))
	qt.Check(t, qt.IsTrue(bits.SupportsExtended()))
	bits.SetBit(ExtensionBitDht, false)
	qt.Check(t, qt.IsFalse(bits.SupportsDHT()))
	qt.Check(t, qt.Equals(bits.String(), "0000000000100004 (ltep, fast)"))
}
