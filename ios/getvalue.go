package ios

import (
	"bytes"
	"fmt"

	plist "howett.net/plist"
)

// BatteryDomain holds the charge state values lockdown exposes.
const BatteryDomain = "com.apple.mobile.battery"

type getValue struct {
	Label   string
	Key     string `plist:"Key,omitempty"`
	Request string
	Domain  string `plist:"Domain,omitempty"`
}

// GetValueResponse contains the response for a GetValue Request
type GetValueResponse struct {
	Key     string
	Request string
	Error   string
	Domain  string
	Value   interface{}
}

func getValueResponsefromBytes(plistBytes []byte) (GetValueResponse, error) {
	decoder := plist.NewDecoder(bytes.NewReader(plistBytes))
	var getValueResponse GetValueResponse
	err := decoder.Decode(&getValueResponse)
	return getValueResponse, err
}

// GetValueForDomain gets the value for key in domain. An empty key returns the whole domain.
func (lockDownConn *LockDownConnection) GetValueForDomain(key string, domain string) (interface{}, error) {
	err := lockDownConn.Send(getValue{Label: lockDownConn.label, Key: key, Request: "GetValue", Domain: domain})
	if err != nil {
		return nil, err
	}
	resp, err := lockDownConn.ReadMessage()
	if err != nil {
		return nil, err
	}
	response, err := getValueResponsefromBytes(resp)
	if err != nil {
		return nil, fmt.Errorf("failed decoding GetValue response: %w", err)
	}
	if response.Error != "" {
		return nil, fmt.Errorf("GetValue '%s' in domain '%s' failed: %s", key, domain, response.Error)
	}
	return response.Value, nil
}
