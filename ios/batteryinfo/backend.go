package batteryinfo

import (
	"fmt"

	ios "github.com/batterymanager/batteryinfo/ios"
	"github.com/batterymanager/batteryinfo/ios/diagnostics"
	log "github.com/sirupsen/logrus"
)

// Device is the handle to the attached device. It is acquired first and released last.
type Device interface {
	UDID() string
	Release() error
}

// Session is an authenticated lockdown session on a Device.
type Session interface {
	StartService(name string) (ServiceDescriptor, error)
	GetValue(domain string, key string) (interface{}, error)
	Close() error
}

// ServiceDescriptor tells how to reach a service that a Session started.
type ServiceDescriptor interface {
	Name() string
	Port() uint16
	Release() error
}

// DiagnosticsClient is a connected diagnostics relay client.
type DiagnosticsClient interface {
	Request(q diagnostics.Query) (diagnostics.Document, error)
	Goodbye() error
	Close() error
}

// Backend acquires the resources the Fetcher needs. The Fetcher owns every handle a
// Backend returns and releases it.
type Backend interface {
	FindDevice(udid string) (Device, error)
	StartSession(device Device, label string) (Session, error)
	NewDiagnosticsClient(device Device, service ServiceDescriptor) (DiagnosticsClient, error)
}

// UsbmuxBackend is the Backend for devices attached through usbmuxd.
type UsbmuxBackend struct{}

// NewUsbmuxBackend returns a Backend talking to the usbmuxd from GetUsbmuxdSocket.
func NewUsbmuxBackend() *UsbmuxBackend {
	return &UsbmuxBackend{}
}

type usbmuxDevice struct {
	entry      ios.DeviceEntry
	pairRecord ios.PairRecord
	released   bool
}

func (d *usbmuxDevice) UDID() string {
	return d.entry.UDID()
}

// Release wipes the pair record, nothing else is held open for a device.
func (d *usbmuxDevice) Release() error {
	if d.released {
		return nil
	}
	d.released = true
	d.pairRecord.Wipe()
	return nil
}

// FindDevice looks up the device and reads its pair record from usbmuxd.
func (b *UsbmuxBackend) FindDevice(udid string) (Device, error) {
	entry, err := ios.GetDevice(udid)
	if err != nil {
		return nil, err
	}
	pairRecord, err := ios.ReadPairRecord(entry.UDID())
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", entry.UDID(), err)
	}
	log.WithFields(log.Fields{"udid": entry.UDID(), "deviceID": entry.DeviceID}).Debug("found device")
	return &usbmuxDevice{entry: entry, pairRecord: pairRecord}, nil
}

// StartSession opens lockdown and starts a session identified by label.
func (b *UsbmuxBackend) StartSession(device Device, label string) (Session, error) {
	d, err := asUsbmuxDevice(device)
	if err != nil {
		return nil, err
	}
	conn, err := ios.ConnectLockdownWithSession(d.entry, d.pairRecord, label)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"udid": d.UDID(), "label": conn.Label(), "session": conn.SessionID()}).Debug("lockdown session ready")
	return &lockdownSession{conn: conn}, nil
}

// NewDiagnosticsClient connects to the relay described by service.
func (b *UsbmuxBackend) NewDiagnosticsClient(device Device, service ServiceDescriptor) (DiagnosticsClient, error) {
	d, err := asUsbmuxDevice(device)
	if err != nil {
		return nil, err
	}
	s, ok := service.(*serviceDescriptor)
	if !ok {
		return nil, fmt.Errorf("unsupported service descriptor %T", service)
	}
	if s.released {
		return nil, fmt.Errorf("service descriptor for %s was already released", s.response.Service)
	}
	client, err := diagnostics.New(d.entry, s.response, d.pairRecord)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func asUsbmuxDevice(device Device) (*usbmuxDevice, error) {
	d, ok := device.(*usbmuxDevice)
	if !ok {
		return nil, fmt.Errorf("unsupported device handle %T", device)
	}
	if d.released {
		return nil, fmt.Errorf("device %s was already released", d.UDID())
	}
	return d, nil
}

type lockdownSession struct {
	conn   *ios.LockDownConnection
	closed bool
}

func (s *lockdownSession) StartService(name string) (ServiceDescriptor, error) {
	resp, err := s.conn.StartService(name)
	if err != nil {
		return nil, err
	}
	return &serviceDescriptor{response: resp}, nil
}

func (s *lockdownSession) GetValue(domain string, key string) (interface{}, error) {
	return s.conn.GetValueForDomain(key, domain)
}

// Close stops the session and closes the lockdown connection.
func (s *lockdownSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

type serviceDescriptor struct {
	response ios.StartServiceResponse
	released bool
}

func (s *serviceDescriptor) Name() string {
	return s.response.Service
}

func (s *serviceDescriptor) Port() uint16 {
	return s.response.Port
}

func (s *serviceDescriptor) Release() error {
	s.released = true
	return nil
}
