// Package muxtest provides an in-process usbmuxd with lockdownd and the diagnostics
// relay behind it, for tests that exercise the real protocol code.
package muxtest

import (
	"fmt"
	"io"
	"net"
	"sync"
	"testing"

	ios "github.com/batterymanager/batteryinfo/ios"
	log "github.com/sirupsen/logrus"
)

// DefaultServicePort is the port StartService hands out.
const DefaultServicePort uint16 = 49152

// usbmuxd result codes
const (
	resultOK          = 0
	resultBadCommand  = 1
	resultBadDevice   = 2
	resultConnRefused = 3
)

// Reply is what the relay answers for one query. An empty Status means "Success".
type Reply struct {
	Status   string
	Document map[string]interface{}
}

// Device is one simulated device.
type Device struct {
	UDID       string
	DeviceID   int
	PairRecord ios.PairRecord
	// Values maps lockdown domain ("" for the default domain) to key to value.
	Values map[string]map[string]interface{}
	// Diagnostics maps a relay query name to its reply. IORegistry queries with an
	// entry class are looked up as "IORegistry/<class>".
	Diagnostics map[string]Reply
	// DropOn closes the relay connection when the named query arrives.
	DropOn map[string]bool
	// SSL makes lockdown and the relay ask for TLS, as real devices do.
	SSL bool
	// NetworkDeviceID, when set, lists the device a second time as a WiFi entry.
	NetworkDeviceID int

	RejectQueryType   bool
	RejectSession     bool
	RejectService     bool
	RefuseServiceDial bool
	NoPairRecord      bool
	serviceStarted    bool
	deviceIdentity    identity
}

// NewDevice returns a device with a pair record and no diagnostics.
func NewDevice(udid string, deviceID int) *Device {
	host := mustIdentity("host-" + udid)
	device := mustIdentity(udid)
	return &Device{
		UDID:     udid,
		DeviceID: deviceID,
		PairRecord: ios.PairRecord{
			HostID:            "HOST-" + udid,
			SystemBUID:        "BUID-" + udid,
			HostCertificate:   host.cert,
			HostPrivateKey:    host.key,
			DeviceCertificate: device.cert,
		},
		Values:         map[string]map[string]interface{}{},
		Diagnostics:    map[string]Reply{},
		DropOn:         map[string]bool{},
		deviceIdentity: device,
	}
}

// Server is a fake usbmuxd listening on a local TCP port.
type Server struct {
	listener    net.Listener
	servicePort uint16

	mu      sync.Mutex
	devices []*Device
	events  []string
	conns   map[net.Conn]struct{}
	wg      sync.WaitGroup
}

// NewServer starts a server for devices and points USBMUXD_SOCKET_ADDRESS at it for
// the duration of the test.
func NewServer(t testing.TB, devices ...*Device) *Server {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("muxtest: listen: %v", err)
	}
	s := &Server{listener: listener, servicePort: DefaultServicePort, devices: devices, conns: map[net.Conn]struct{}{}}
	t.Setenv("USBMUXD_SOCKET_ADDRESS", listener.Addr().String())
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

// Close stops accepting, drops connections the client left open and waits for
// all handlers to return.
func (s *Server) Close() {
	s.listener.Close()
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Events returns everything the server received, in order, as "<endpoint> <request>".
func (s *Server) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

// OpenConnections returns the number of client connections not yet closed.
func (s *Server) OpenConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) record(endpoint string, request string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, endpoint+" "+request)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				conn.Close()
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
			}()
			err := s.serveUsbmux(conn)
			if err != nil && err != io.EOF {
				log.Debugf("muxtest: connection ended: %v", err)
			}
		}()
	}
}

func (s *Server) findDevice(deviceID uint64) *Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if uint64(d.DeviceID) == deviceID || (d.NetworkDeviceID != 0 && uint64(d.NetworkDeviceID) == deviceID) {
			return d
		}
	}
	return nil
}

func (s *Server) findDeviceByUDID(udid string) *Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.UDID == udid {
			return d
		}
	}
	return nil
}

func (s *Server) serveUsbmux(conn net.Conn) error {
	for {
		msg, err := ios.ReadUsbMuxMessage(conn)
		if err != nil {
			return err
		}
		req, err := ios.ParsePlist(msg.Payload)
		if err != nil {
			return err
		}
		messageType, _ := req["MessageType"].(string)
		s.record("usbmux", messageType)
		tag := msg.Header.Tag

		switch messageType {
		case "ListDevices":
			err = writeMux(conn, tag, s.deviceList())
		case "ReadPairRecord":
			udid, _ := req["PairRecordID"].(string)
			d := s.findDeviceByUDID(udid)
			if d == nil || d.NoPairRecord {
				err = writeMux(conn, tag, result(resultBadDevice))
				break
			}
			var record []byte
			record, err = ios.ToPlistBytes(d.PairRecord)
			if err != nil {
				return err
			}
			err = writeMux(conn, tag, ios.PairRecordData{PairRecordData: record})
		case "Connect":
			deviceID, _ := req["DeviceID"].(uint64)
			port, _ := req["PortNumber"].(uint64)
			d := s.findDevice(deviceID)
			if d == nil {
				err = writeMux(conn, tag, result(resultBadDevice))
				break
			}
			if uint16(port) == ios.Lockdownport {
				if err := writeMux(conn, tag, result(resultOK)); err != nil {
					return err
				}
				return s.serveLockdown(conn, d)
			}
			if uint16(port) == ios.Ntohs(s.servicePort) && s.started(d) && !d.RefuseServiceDial {
				if err := writeMux(conn, tag, result(resultOK)); err != nil {
					return err
				}
				return s.serveRelay(conn, d)
			}
			err = writeMux(conn, tag, result(resultConnRefused))
		default:
			err = writeMux(conn, tag, result(resultBadCommand))
		}
		if err != nil {
			return err
		}
	}
}

func (s *Server) started(d *Device) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return d.serviceStarted
}

func (s *Server) deviceList() ios.DeviceList {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := ios.DeviceList{DeviceList: []ios.DeviceEntry{}}
	for _, d := range s.devices {
		if d.NetworkDeviceID != 0 {
			list.DeviceList = append(list.DeviceList, ios.DeviceEntry{
				DeviceID:    d.NetworkDeviceID,
				MessageType: "Attached",
				Properties: ios.DeviceProperties{
					ConnectionType: ios.ConnectionTypeNetwork,
					DeviceID:       d.NetworkDeviceID,
					SerialNumber:   d.UDID,
				},
			})
		}
		list.DeviceList = append(list.DeviceList, ios.DeviceEntry{
			DeviceID:    d.DeviceID,
			MessageType: "Attached",
			Properties: ios.DeviceProperties{
				ConnectionType: ios.ConnectionTypeUSB,
				DeviceID:       d.DeviceID,
				SerialNumber:   d.UDID,
			},
		})
	}
	return list
}

func (s *Server) serveLockdown(conn net.Conn, d *Device) error {
	codec := ios.NewPlistCodec()
	for {
		payload, err := codec.Decode(conn)
		if err != nil {
			return err
		}
		req, err := ios.ParsePlist(payload)
		if err != nil {
			return err
		}
		request, _ := req["Request"].(string)
		s.record("lockdown", request)

		var reply map[string]interface{}
		switch request {
		case "QueryType":
			reply = map[string]interface{}{"Request": request, "Type": "com.apple.mobile.lockdown"}
			if d.RejectQueryType {
				reply["Type"] = "com.apple.mobile.restored"
			}
		case "StartSession":
			hostID, _ := req["HostID"].(string)
			reply = map[string]interface{}{"Request": request}
			if d.RejectSession || hostID != d.PairRecord.HostID {
				reply["Error"] = "InvalidHostID"
				break
			}
			reply["SessionID"] = "SESSION-" + d.UDID
			reply["EnableSessionSSL"] = d.SSL
		case "StartService":
			service, _ := req["Service"].(string)
			reply = map[string]interface{}{"Request": request, "Service": service}
			if d.RejectService {
				reply["Error"] = "InvalidService"
				break
			}
			s.mu.Lock()
			d.serviceStarted = true
			s.mu.Unlock()
			reply["Port"] = s.servicePort
			reply["EnableServiceSSL"] = d.SSL
		case "GetValue":
			domain, _ := req["Domain"].(string)
			key, _ := req["Key"].(string)
			reply = map[string]interface{}{"Request": request}
			values, ok := d.Values[domain]
			if !ok {
				reply["Error"] = "MissingValue"
				break
			}
			if key == "" {
				reply["Value"] = values
				break
			}
			value, ok := values[key]
			if !ok {
				reply["Error"] = "MissingValue"
				break
			}
			reply["Key"] = key
			reply["Value"] = value
		case "StopSession":
			reply = map[string]interface{}{"Request": request}
		default:
			reply = map[string]interface{}{"Request": request, "Error": "InvalidRequest"}
		}
		if err := writePlist(conn, codec, reply); err != nil {
			return err
		}
		if request == "StartSession" && reply["Error"] == nil && d.SSL {
			conn, err = serverTLS(conn, d)
			if err != nil {
				return err
			}
		}
	}
}

func (s *Server) serveRelay(conn net.Conn, d *Device) error {
	codec := ios.NewPlistCodec()
	if d.SSL {
		var err error
		conn, err = serverTLS(conn, d)
		if err != nil {
			return err
		}
	}
	for {
		payload, err := codec.Decode(conn)
		if err != nil {
			return err
		}
		req, err := ios.ParsePlist(payload)
		if err != nil {
			return err
		}
		name, _ := req["Request"].(string)
		if class, ok := req["EntryClass"].(string); ok && class != "" {
			name = name + "/" + class
		}
		s.record("relay", name)

		if d.DropOn[name] {
			return fmt.Errorf("dropped relay connection on %s", name)
		}
		var reply map[string]interface{}
		if name == "Goodbye" {
			reply = map[string]interface{}{"Status": "Success"}
		} else if r, ok := d.Diagnostics[name]; ok {
			status := r.Status
			if status == "" {
				status = "Success"
			}
			reply = map[string]interface{}{"Status": status}
			if r.Document != nil {
				reply["Diagnostics"] = r.Document
			}
		} else {
			reply = map[string]interface{}{"Status": "UnknownRequest"}
		}
		if err := writePlist(conn, codec, reply); err != nil {
			return err
		}
	}
}

func result(number uint32) ios.MuxResponse {
	return ios.MuxResponse{MessageType: "Result", Number: number}
}

func writeMux(w io.Writer, tag uint32, msg interface{}) error {
	payload, err := ios.ToPlistBytes(msg)
	if err != nil {
		return err
	}
	err = ios.WriteUsbMuxHeader(len(payload), tag, w)
	if err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

func writePlist(w io.Writer, codec ios.PlistCodec, msg interface{}) error {
	bytes, err := codec.Encode(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(bytes)
	return err
}
