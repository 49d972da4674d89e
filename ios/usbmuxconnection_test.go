package ios_test

import (
	"bytes"
	"testing"

	ios "github.com/batterymanager/batteryinfo/ios"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetUsbmuxdSocket(t *testing.T) {
	testCases := map[string]struct {
		override string
		expected string
	}{
		"tcp override":  {"127.0.0.1:27015", "tcp://127.0.0.1:27015"},
		"unix override": {"/tmp/usbmuxd", "unix:///tmp/usbmuxd"},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("USBMUXD_SOCKET_ADDRESS", tc.override)
			assert.Equal(t, tc.expected, ios.GetUsbmuxdSocket())
		})
	}
}

func TestGetSocketTypeAndAddress(t *testing.T) {
	network, address, err := ios.GetSocketTypeAndAddress("unix:///var/run/usbmuxd")
	require.NoError(t, err)
	assert.Equal(t, "unix", network)
	assert.Equal(t, "/var/run/usbmuxd", address)

	_, _, err = ios.GetSocketTypeAndAddress("/var/run/usbmuxd")
	assert.Error(t, err)
}

func TestUsbMuxMessageFraming(t *testing.T) {
	payload, err := ios.ToPlistBytes(ios.NewReadDevices())
	require.NoError(t, err)

	buf := new(bytes.Buffer)
	require.NoError(t, ios.WriteUsbMuxHeader(len(payload), 7, buf))
	buf.Write(payload)
	assert.Equal(t, 16+len(payload), buf.Len())

	msg, err := ios.ReadUsbMuxMessage(buf)
	require.NoError(t, err)
	assert.Equal(t, ios.UsbMuxHeader{Length: uint32(16 + len(payload)), Version: 1, Request: 8, Tag: 7}, msg.Header)
	assert.Equal(t, payload, msg.Payload)
}

func TestReadUsbMuxMessageRejectsShortHeader(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, ios.WriteUsbMuxHeader(-10, 1, buf))
	_, err := ios.ReadUsbMuxMessage(buf)
	assert.Error(t, err)
}
