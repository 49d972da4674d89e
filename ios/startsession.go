package ios

import (
	"bytes"
	"fmt"

	log "github.com/sirupsen/logrus"
	plist "howett.net/plist"
)

const lockdownServiceType = "com.apple.mobile.lockdown"

type queryTypeRequest struct {
	Label   string
	Request string
}

type queryTypeResponse struct {
	Request string
	Type    string
	Error   string
}

// QueryType asks the device which service answers on this connection. It fails
// unless the answer is lockdownd.
func (lockDownConn *LockDownConnection) QueryType() error {
	err := lockDownConn.Send(queryTypeRequest{Label: lockDownConn.label, Request: "QueryType"})
	if err != nil {
		return err
	}
	resp, err := lockDownConn.ReadMessage()
	if err != nil {
		return err
	}
	var response queryTypeResponse
	_, err = plist.Unmarshal(resp, &response)
	if err != nil {
		return fmt.Errorf("failed decoding QueryType response: %w", err)
	}
	if response.Error != "" {
		return fmt.Errorf("QueryType failed: %s", response.Error)
	}
	if response.Type != lockdownServiceType {
		return fmt.Errorf("QueryType returned '%s' instead of %s", response.Type, lockdownServiceType)
	}
	return nil
}

type startSessionRequest struct {
	Label           string
	ProtocolVersion string
	Request         string
	HostID          string
	SystemBUID      string
}

func newStartSessionRequest(label string, hostID string, systemBuid string) startSessionRequest {
	return startSessionRequest{
		Label:           label,
		ProtocolVersion: "2",
		Request:         "StartSession",
		HostID:          hostID,
		SystemBUID:      systemBuid,
	}
}

// StartSessionResponse contains the information sent by the device as a response to a StartSessionRequest.
type StartSessionResponse struct {
	EnableSessionSSL bool
	Request          string
	SessionID        string
	Error            string
}

func startSessionResponsefromBytes(plistBytes []byte) (StartSessionResponse, error) {
	decoder := plist.NewDecoder(bytes.NewReader(plistBytes))
	var data StartSessionResponse
	err := decoder.Decode(&data)
	return data, err
}

// StartSession will send a StartSession Request to Lockdown, wait for the response and enable
// SSL on the underlying connection if necessary. The devices usually always requests to enable
// SSL.
func (lockDownConn *LockDownConnection) StartSession(pairRecord PairRecord) (StartSessionResponse, error) {
	err := lockDownConn.Send(newStartSessionRequest(lockDownConn.label, pairRecord.HostID, pairRecord.SystemBUID))
	if err != nil {
		return StartSessionResponse{}, err
	}
	resp, err := lockDownConn.ReadMessage()
	if err != nil {
		return StartSessionResponse{}, err
	}
	response, err := startSessionResponsefromBytes(resp)
	if err != nil {
		return StartSessionResponse{}, fmt.Errorf("failed decoding StartSession response: %w", err)
	}
	if response.Error != "" {
		return response, fmt.Errorf("StartSession rejected: %s", response.Error)
	}
	lockDownConn.sessionID = response.SessionID
	log.WithFields(log.Fields{"SessionID": response.SessionID, "EnableSessionSSL": response.EnableSessionSSL}).Debug("lockdown session started")
	if response.EnableSessionSSL {
		err = lockDownConn.deviceConnection.EnableSessionSsl(pairRecord)
		if err != nil {
			return StartSessionResponse{}, err
		}
	}
	return response, nil
}
