package ios

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"reflect"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
)

// GetSocketTypeAndAddress splits "scheme://address" into network and address.
func GetSocketTypeAndAddress(socketAddress string) (string, string, error) {
	chunks := strings.Split(socketAddress, "://")
	if len(chunks) != 2 {
		return "", "", fmt.Errorf("socket address '%s' needs the form scheme://address", socketAddress)
	}
	return chunks[0], chunks[1], nil
}

// GetUsbmuxdSocket returns the usbmuxd address for this platform. USBMUXD_SOCKET_ADDRESS
// overrides it, a value containing ':' is treated as a TCP address.
func GetUsbmuxdSocket() string {
	socketOverride := os.Getenv("USBMUXD_SOCKET_ADDRESS")
	if socketOverride != "" {
		if strings.Contains(socketOverride, ":") {
			return "tcp://" + socketOverride
		}
		return "unix://" + socketOverride
	}
	switch runtime.GOOS {
	case "windows":
		return "tcp://127.0.0.1:27015"
	default:
		return "unix:///var/run/usbmuxd"
	}
}

// UsbMuxConnection sends and reads messages to the usbmuxd process. Messages follow a
// request-response pattern, the tag in the header is increased with every sent message.
type UsbMuxConnection struct {
	// tag will be incremented for every message, so responses can be correlated to requests
	tag        uint32
	deviceConn DeviceConnectionInterface
}

// NewUsbMuxConnection creates a new UsbMuxConnection from an already initialized DeviceConnectionInterface
func NewUsbMuxConnection(deviceConn DeviceConnectionInterface) *UsbMuxConnection {
	return &UsbMuxConnection{tag: 0, deviceConn: deviceConn}
}

// NewUsbMuxConnectionSimple dials the usbmuxd socket returned by GetUsbmuxdSocket.
func NewUsbMuxConnectionSimple() (*UsbMuxConnection, error) {
	deviceConn, err := NewDeviceConnection(GetUsbmuxdSocket())
	if err != nil {
		return nil, fmt.Errorf("could not connect to usbmuxd socket, is it running? %w", err)
	}
	return NewUsbMuxConnection(deviceConn), nil
}

// ReleaseDeviceConnection hands the underlying DeviceConnection to the caller.
// This UsbMuxConnection cannot be used after calling this.
func (muxConn *UsbMuxConnection) ReleaseDeviceConnection() DeviceConnectionInterface {
	conn := muxConn.deviceConn
	muxConn.deviceConn = nil
	return conn
}

// Close closes the underlying DeviceConnection unless it was released before.
func (muxConn *UsbMuxConnection) Close() error {
	if muxConn.deviceConn == nil {
		return nil
	}
	return muxConn.deviceConn.Close()
}

// UsbMuxMessage contains header and payload for a message to usbmux
type UsbMuxMessage struct {
	Header  UsbMuxHeader
	Payload []byte
}

// UsbMuxHeader contains the header for plist messages for the usbmux daemon.
type UsbMuxHeader struct {
	Length  uint32
	Version uint32
	Request uint32
	Tag     uint32
}

const usbmuxHeaderSize = 16

// Send encodes msg as a plist and writes it with a usbmux header. Increases the connection tag by one.
func (muxConn *UsbMuxConnection) Send(msg interface{}) error {
	if muxConn.deviceConn == nil {
		return io.EOF
	}
	muxConn.tag++
	err := muxConn.encode(msg, muxConn.deviceConn.Writer())
	if err != nil {
		return fmt.Errorf("failed sending usbmux message: %w", err)
	}
	return nil
}

// ReadMessage blocks until the next muxMessage is available on the underlying DeviceConnection and returns it.
func (muxConn *UsbMuxConnection) ReadMessage() (UsbMuxMessage, error) {
	if muxConn.deviceConn == nil {
		return UsbMuxMessage{}, io.EOF
	}
	return muxConn.decode(muxConn.deviceConn.Reader())
}

func (muxConn *UsbMuxConnection) encode(message interface{}, writer io.Writer) error {
	log.Tracef("UsbMux send %v tag:%d", reflect.TypeOf(message), muxConn.tag)
	mbytes, err := ToPlistBytes(message)
	if err != nil {
		return err
	}
	err = WriteUsbMuxHeader(len(mbytes), muxConn.tag, writer)
	if err != nil {
		return err
	}
	_, err = writer.Write(mbytes)
	return err
}

// WriteUsbMuxHeader writes a plist message header for a payload of the given length.
func WriteUsbMuxHeader(length int, tag uint32, writer io.Writer) error {
	header := UsbMuxHeader{Length: usbmuxHeaderSize + uint32(length), Request: 8, Version: 1, Tag: tag}
	return binary.Write(writer, binary.LittleEndian, header)
}

func (muxConn *UsbMuxConnection) decode(r io.Reader) (UsbMuxMessage, error) {
	msg, err := ReadUsbMuxMessage(r)
	if err != nil {
		return UsbMuxMessage{}, err
	}
	log.Tracef("UsbMux receive tag:%d", msg.Header.Tag)
	return msg, nil
}

// ReadUsbMuxMessage reads one header and its payload from r.
func ReadUsbMuxMessage(r io.Reader) (UsbMuxMessage, error) {
	var muxHeader UsbMuxHeader
	err := binary.Read(r, binary.LittleEndian, &muxHeader)
	if err != nil {
		return UsbMuxMessage{}, err
	}
	if muxHeader.Length < usbmuxHeaderSize {
		return UsbMuxMessage{}, fmt.Errorf("invalid usbmux header length %d", muxHeader.Length)
	}
	payloadBytes := make([]byte, muxHeader.Length-usbmuxHeaderSize)
	n, err := io.ReadFull(r, payloadBytes)
	if err != nil {
		return UsbMuxMessage{}, fmt.Errorf("error '%w' while reading usbmux package. Only %d bytes received instead of %d", err, n, muxHeader.Length-usbmuxHeaderSize)
	}
	return UsbMuxMessage{muxHeader, payloadBytes}, nil
}
