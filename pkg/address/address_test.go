package address

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDeviceName(t *testing.T) {
	tests := []struct {
		in   string
		want DeviceName
	}{
		{"inst0", DeviceName{Kind: KindInstrument, Primary: -1, Secondary: -1}},
		{"INST12", DeviceName{Kind: KindInstrument, Interface: 12, Primary: -1, Secondary: -1}},
		{"gpib0", DeviceName{Kind: KindGPIB, Primary: -1, Secondary: -1}},
		{"gpib1,5", DeviceName{Kind: KindGPIB, Interface: 1, Primary: 5, Secondary: -1}},
		{"gpib0,31,1", DeviceName{Kind: KindGPIB, Primary: 31, Secondary: 1}},
		{"usb0", DeviceName{Kind: KindUSB, Primary: -1, Secondary: -1}},
		{"usb0::0x0957::0x1796::MY123::0", DeviceName{
			Kind: KindUSB, Primary: -1, Secondary: -1,
			Manufacturer: "0x0957", Model: "0x1796", Serial: "MY123",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDeviceName(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDeviceNameInvalid(t *testing.T) {
	for _, in := range []string{
		"", "dev0", "inst", "inst128", "inst-1", "inst+1", "gpib0,0", "gpib0,32",
		"gpib0,5,32", "gpib0,5,6,7", "gpibx", "usb0::a::b", "usb0::a::b::c::x", "usb0::::b::c::0",
	} {
		_, err := ParseDeviceName(in)
		assert.True(t, errors.Is(err, ErrInvalidAddress), "%q: got %v", in, err)
	}
}

func TestDeviceNameString(t *testing.T) {
	for _, in := range []string{"inst3", "gpib0", "gpib0,5", "gpib2,5,9", "usb0", "usb1::A::B::C::2"} {
		d, err := ParseDeviceName(in)
		require.NoError(t, err)
		assert.Equal(t, in, d.String())
	}

	d, _ := ParseDeviceName("gpib0")
	assert.True(t, d.IsInterface())
	d, _ = ParseDeviceName("gpib0,1")
	assert.False(t, d.IsInterface())
}

func TestParseResource(t *testing.T) {
	tests := []struct {
		in   string
		want Resource
	}{
		{"192.168.1.10", Resource{Host: "192.168.1.10", Device: "inst0"}},
		{"TCPIP::scope.lab", Resource{Host: "scope.lab", Device: "inst0"}},
		{"TCPIP0::10.0.0.2::INSTR", Resource{Host: "10.0.0.2", Device: "inst0"}},
		{"tcpip1::10.0.0.2::gpib0,7::instr", Resource{Board: 1, Host: "10.0.0.2", Device: "gpib0,7"}},
		{"TCPIP::gw::usb0::0x1::0x2::SN::0::INSTR", Resource{Host: "gw", Device: "usb0::0x1::0x2::SN::0"}},
	}
	for _, tt := range tests {
		got, err := ParseResource(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, in := range []string{"", "GPIB0::5::INSTR", "TCPIP::host::5025::SOCKET", "TCPIPx::h", "TCPIP::::INSTR"} {
		_, err := ParseResource(in)
		assert.ErrorIs(t, err, ErrInvalidAddress, in)
	}

	r, _ := ParseResource("TCPIP::h::inst1::INSTR")
	assert.Equal(t, "TCPIP0::h::inst1::INSTR", r.String())
}
