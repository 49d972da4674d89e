package ios

import (
	"bytes"

	plist "howett.net/plist"
)

// values sent to usbmuxd and lockdown to identify this client
const (
	bundleID      = "com.batterymanager.batteryinfo"
	progName      = "batteryinfo"
	clientVersion = "batteryinfo-usbmux-1.0"
)

// MuxResponse is a generic response message sent by usbmuxd
// it contains a Number response code
type MuxResponse struct {
	MessageType string
	Number      uint32
}

// MuxResponsefromBytes parses a MuxResponse struct from bytes
func MuxResponsefromBytes(plistBytes []byte) (MuxResponse, error) {
	decoder := plist.NewDecoder(bytes.NewReader(plistBytes))
	var usbMuxResponse MuxResponse
	err := decoder.Decode(&usbMuxResponse)
	return usbMuxResponse, err
}

// IsSuccessFull returns UsbMuxResponse.Number==0
func (u MuxResponse) IsSuccessFull() bool {
	return u.Number == 0
}
