package ios

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	plist "howett.net/plist"
)

var (
	// ErrNoDevice is returned when usbmuxd reports no matching device.
	ErrNoDevice = errors.New("no iOS devices are attached to this host")
	// ErrAmbiguousDevice is returned when several devices are attached and no udid was given.
	ErrAmbiguousDevice = errors.New("more than one iOS device is attached, specify a udid")
)

// ReadDevicesType contains all the data necessary to request a DeviceList from
// usbmuxd. Can be created with NewReadDevices
type ReadDevicesType struct {
	MessageType         string
	ProgName            string
	ClientVersionString string
}

// NewReadDevices creates a request for a device list that can be sent to usbmuxd.
func NewReadDevices() ReadDevicesType {
	return ReadDevicesType{
		MessageType:         "ListDevices",
		ProgName:            progName,
		ClientVersionString: clientVersion,
	}
}

// DeviceList is a simple wrapper for a array of DeviceEntry
type DeviceList struct {
	DeviceList []DeviceEntry
}

// DeviceEntry contains the DeviceID usbmuxd assigned and the
// DeviceProperties where the udid is stored.
type DeviceEntry struct {
	DeviceID    int
	MessageType string
	Properties  DeviceProperties
}

// UDID returns the unique device identifier, usbmuxd calls it SerialNumber.
func (d DeviceEntry) UDID() string {
	return d.Properties.SerialNumber
}

// Connection types usbmuxd reports in DeviceProperties.
const (
	ConnectionTypeUSB     = "USB"
	ConnectionTypeNetwork = "Network"
)

// DeviceProperties contains device related info like the udid which is named SerialNumber here
type DeviceProperties struct {
	ConnectionSpeed int
	ConnectionType  string
	DeviceID        int
	LocationID      int
	ProductID       int
	SerialNumber    string
}

// DeviceListfromBytes parses a DeviceList from a byte array
func DeviceListfromBytes(plistBytes []byte) (DeviceList, error) {
	decoder := plist.NewDecoder(bytes.NewReader(plistBytes))
	var deviceList DeviceList
	err := decoder.Decode(&deviceList)
	if err != nil {
		return DeviceList{}, fmt.Errorf("failed decoding device list: %w", err)
	}
	return deviceList, nil
}

// String returns a list of all udids in a formatted string
func (deviceList DeviceList) String() string {
	var sb strings.Builder
	for _, element := range deviceList.DeviceList {
		sb.WriteString(element.UDID())
		sb.WriteString("\n")
	}
	return sb.String()
}

// ListDevices returns a DeviceList containing data about all
// currently connected iOS devices
func (muxConn *UsbMuxConnection) ListDevices() (DeviceList, error) {
	err := muxConn.Send(NewReadDevices())
	if err != nil {
		return DeviceList{}, fmt.Errorf("failed sending to usbmux requesting devicelist: %w", err)
	}
	response, err := muxConn.ReadMessage()
	if err != nil {
		return DeviceList{}, fmt.Errorf("failed getting devicelist: %w", err)
	}
	return DeviceListfromBytes(response.Payload)
}

// ListDevices returns a DeviceList containing data about all
// currently connected iOS devices using a new UsbMuxConnection
func ListDevices() (DeviceList, error) {
	muxConnection, err := NewUsbMuxConnectionSimple()
	if err != nil {
		return DeviceList{}, err
	}
	defer muxConnection.Close()
	return muxConnection.ListDevices()
}

// GetDevice returns the device for udid. If udid is empty the env variable 'udid' is
// consulted. Without any udid exactly one device must be attached.
func GetDevice(udid string) (DeviceEntry, error) {
	if udid == "" {
		udid = os.Getenv("udid")
		if udid != "" {
			log.Debug("using udid from env.udid variable")
		}
	}
	log.Debugf("Looking for device '%s'", udid)
	deviceList, err := ListDevices()
	if err != nil {
		return DeviceEntry{}, err
	}
	return deviceList.Select(udid)
}

// Select picks the entry for udid, or the single attached device when udid is empty.
// usbmuxd lists a device once per connection, so entries are grouped by udid and
// the USB entry wins over a network entry of the same device.
func (deviceList DeviceList) Select(udid string) (DeviceEntry, error) {
	devices := deviceList.byUDID()
	if udid == "" {
		switch len(devices) {
		case 0:
			return DeviceEntry{}, ErrNoDevice
		case 1:
			return devices[0], nil
		default:
			return DeviceEntry{}, fmt.Errorf("%w: found %d", ErrAmbiguousDevice, len(devices))
		}
	}
	for _, device := range devices {
		if device.UDID() == udid {
			return device, nil
		}
	}
	return DeviceEntry{}, fmt.Errorf("%w: device '%s' not found, is it attached to the machine?", ErrNoDevice, udid)
}

// byUDID returns one entry per device in list order, preferring USB connections.
func (deviceList DeviceList) byUDID() []DeviceEntry {
	devices := make([]DeviceEntry, 0, len(deviceList.DeviceList))
	index := map[string]int{}
	for _, entry := range deviceList.DeviceList {
		i, seen := index[entry.UDID()]
		if !seen {
			index[entry.UDID()] = len(devices)
			devices = append(devices, entry)
			continue
		}
		if devices[i].Properties.ConnectionType != ConnectionTypeUSB && entry.Properties.ConnectionType == ConnectionTypeUSB {
			devices[i] = entry
		}
	}
	return devices
}
