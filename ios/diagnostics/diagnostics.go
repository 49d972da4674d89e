// Package diagnostics talks to com.apple.mobile.diagnostics_relay, the lockdown
// service that answers GasGauge, IORegistry and similar hardware queries.
package diagnostics

import (
	"fmt"

	ios "github.com/batterymanager/batteryinfo/ios"
	log "github.com/sirupsen/logrus"
)

// ServiceName is the lockdown name of the diagnostics relay.
const ServiceName = "com.apple.mobile.diagnostics_relay"

// Connection is a client for one diagnostics relay connection.
type Connection struct {
	deviceConn ios.DeviceConnectionInterface
	plistCodec ios.PlistCodec
	closed     bool
}

// New connects to the relay that lockdown started as described by startServiceResponse.
func New(device ios.DeviceEntry, startServiceResponse ios.StartServiceResponse, pairRecord ios.PairRecord) (*Connection, error) {
	if startServiceResponse.Service != "" && startServiceResponse.Service != ServiceName {
		return nil, fmt.Errorf("service descriptor is for '%s', not %s", startServiceResponse.Service, ServiceName)
	}
	deviceConn, err := ios.ConnectToStartedService(device, startServiceResponse, pairRecord)
	if err != nil {
		return nil, err
	}
	return NewWithConn(deviceConn), nil
}

// NewWithConn wraps an already established relay connection.
func NewWithConn(deviceConn ios.DeviceConnectionInterface) *Connection {
	return &Connection{deviceConn: deviceConn, plistCodec: ios.NewPlistCodec()}
}

// Request sends q and returns the Diagnostics node of the reply. A successful reply
// without that node returns a nil Document and no error.
func (diagnosticsConn *Connection) Request(q Query) (Document, error) {
	resp, err := diagnosticsConn.roundTrip(q.request())
	if err != nil {
		return nil, err
	}
	if err := resp.err(); err != nil {
		return nil, fmt.Errorf("request '%s': %w", q, err)
	}
	log.WithFields(log.Fields{"query": q.String(), "entries": len(resp.Diagnostics)}).Debug("diagnostics relay answered")
	return resp.Diagnostics, nil
}

// Goodbye tells the relay that this client is done. The connection stays open until Close.
func (diagnosticsConn *Connection) Goodbye() error {
	resp, err := diagnosticsConn.roundTrip(goodbyeRequest())
	if err != nil {
		return err
	}
	if err := resp.err(); err != nil {
		return fmt.Errorf("goodbye: %w", err)
	}
	return nil
}

// Close closes the underlying connection. Calling it more than once is a no-op.
func (diagnosticsConn *Connection) Close() error {
	if diagnosticsConn.closed {
		return nil
	}
	diagnosticsConn.closed = true
	return diagnosticsConn.deviceConn.Close()
}

func (diagnosticsConn *Connection) roundTrip(req map[string]interface{}) (relayResponse, error) {
	if diagnosticsConn.closed {
		return relayResponse{}, fmt.Errorf("diagnostics relay connection is closed")
	}
	bytes, err := diagnosticsConn.plistCodec.Encode(req)
	if err != nil {
		return relayResponse{}, err
	}
	err = diagnosticsConn.deviceConn.Send(bytes)
	if err != nil {
		return relayResponse{}, err
	}
	respBytes, err := diagnosticsConn.plistCodec.Decode(diagnosticsConn.deviceConn.Reader())
	if err != nil {
		return relayResponse{}, err
	}
	return responseFromBytes(respBytes)
}
