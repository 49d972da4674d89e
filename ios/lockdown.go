package ios

import (
	"fmt"
)

// Lockdownport is the port of the always running lockdownd on the iOS device,
// already in the byte order usbmuxd expects.
const Lockdownport uint16 = 32498

// DefaultLockdownLabel is sent when the caller does not name itself.
const DefaultLockdownLabel = progName

// LockDownConnection allows you to interact with the Lockdown service on the phone.
// You can use this to grab basic info from the device and start other services on the phone.
type LockDownConnection struct {
	deviceConnection DeviceConnectionInterface
	sessionID        string
	label            string
	plistCodec       PlistCodec
}

// NewLockDownConnection creates a LockDownConnection that identifies itself with label.
func NewLockDownConnection(dev DeviceConnectionInterface, label string) *LockDownConnection {
	if label == "" {
		label = DefaultLockdownLabel
	}
	return &LockDownConnection{deviceConnection: dev, label: label, plistCodec: NewPlistCodec()}
}

// Label is the client name sent with every lockdown request.
func (lockDownConn *LockDownConnection) Label() string {
	return lockDownConn.label
}

// SessionID returns the id of the running session or "" if there is none.
func (lockDownConn *LockDownConnection) SessionID() string {
	return lockDownConn.sessionID
}

// Close stops a running session and closes the underlying DeviceConnection.
func (lockDownConn *LockDownConnection) Close() error {
	stopErr := lockDownConn.StopSession()
	closeErr := lockDownConn.deviceConnection.Close()
	if stopErr != nil {
		return stopErr
	}
	return closeErr
}

// Send takes a go struct, converts it to a PLIST and sends it with a 4 byte length field.
func (lockDownConn *LockDownConnection) Send(msg interface{}) error {
	bytes, err := lockDownConn.plistCodec.Encode(msg)
	if err != nil {
		return fmt.Errorf("failed encoding lockdown message: %w", err)
	}
	return lockDownConn.deviceConnection.Send(bytes)
}

// ReadMessage reads the next lockdown message from the underlying
// DeviceConnection and returns the Plist as a byte slice.
func (lockDownConn *LockDownConnection) ReadMessage() ([]byte, error) {
	return lockDownConn.plistCodec.Decode(lockDownConn.deviceConnection.Reader())
}
