package ios

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

type connectMessage struct {
	BundleID            string
	ClientVersionString string
	MessageType         string
	ProgName            string
	LibUSBMuxVersion    uint32 `plist:"kLibUSBMuxVersion"`
	DeviceID            uint32
	PortNumber          uint16
}

func newConnectMessage(deviceID int, portNumber uint16) connectMessage {
	return connectMessage{
		BundleID:            bundleID,
		ClientVersionString: clientVersion,
		MessageType:         "Connect",
		ProgName:            progName,
		LibUSBMuxVersion:    3,
		DeviceID:            uint32(deviceID),
		PortNumber:          portNumber,
	}
}

// Connect issues a Connect Message to usbmuxd for the given deviceID on the given port.
// The port has to be in network byte order already. After a successful connect the
// underlying connection is a raw stream to the device port.
// It returns an error containing the usbmuxd error code should the connect fail.
func (muxConn *UsbMuxConnection) Connect(deviceID int, port uint16) error {
	err := muxConn.Send(newConnectMessage(deviceID, port))
	if err != nil {
		return err
	}
	resp, err := muxConn.ReadMessage()
	if err != nil {
		return err
	}
	response, err := MuxResponsefromBytes(resp.Payload)
	if err != nil {
		return fmt.Errorf("failed decoding usbmux connect response: %w", err)
	}
	if !response.IsSuccessFull() {
		return fmt.Errorf("failed connecting to device port, usbmux error code:%d", response.Number)
	}
	return nil
}

// ConnectLockdown connects this usbmux connection to lockdownd on the device. The
// UsbMuxConnection cannot be used afterwards because the network connection now
// belongs to the returned LockDownConnection.
func (muxConn *UsbMuxConnection) ConnectLockdown(deviceID int, label string) (*LockDownConnection, error) {
	err := muxConn.Connect(deviceID, Lockdownport)
	if err != nil {
		return nil, fmt.Errorf("failed connecting to lockdown: %w", err)
	}
	return NewLockDownConnection(muxConn.ReleaseDeviceConnection(), label), nil
}

// ConnectLockdownWithSession opens lockdown on device, checks its type and starts a
// session authenticated with pairRecord. The returned connection must be closed by the caller.
func ConnectLockdownWithSession(device DeviceEntry, pairRecord PairRecord, label string) (*LockDownConnection, error) {
	muxConnection, err := NewUsbMuxConnectionSimple()
	if err != nil {
		return nil, err
	}
	lockdownConnection, err := muxConnection.ConnectLockdown(device.DeviceID, label)
	if err != nil {
		muxConnection.Close()
		return nil, err
	}
	err = lockdownConnection.QueryType()
	if err != nil {
		lockdownConnection.Close()
		return nil, err
	}
	_, err = lockdownConnection.StartSession(pairRecord)
	if err != nil {
		lockdownConnection.Close()
		return nil, fmt.Errorf("StartSession failed: %w", err)
	}
	return lockdownConnection, nil
}

// ConnectToStartedService opens a new usbmux connection to a service that lockdown
// started and enables SSL on it if the StartServiceResponse asks for it.
func ConnectToStartedService(device DeviceEntry, startServiceResponse StartServiceResponse, pairRecord PairRecord) (DeviceConnectionInterface, error) {
	muxConn, err := NewUsbMuxConnectionSimple()
	if err != nil {
		return nil, err
	}
	err = muxConn.Connect(device.DeviceID, Ntohs(startServiceResponse.Port))
	if err != nil {
		muxConn.Close()
		return nil, fmt.Errorf("failed connecting to %s: %w", startServiceResponse.Service, err)
	}
	deviceConn := muxConn.ReleaseDeviceConnection()
	if startServiceResponse.EnableServiceSSL {
		err = deviceConn.EnableSessionSsl(pairRecord)
		if err != nil {
			deviceConn.Close()
			return nil, err
		}
	}
	log.WithFields(log.Fields{"service": startServiceResponse.Service, "port": startServiceResponse.Port}).Debug("connected to service")
	return deviceConn, nil
}
