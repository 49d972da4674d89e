package ios

import (
	"bytes"
	"fmt"

	log "github.com/sirupsen/logrus"
	plist "howett.net/plist"
)

type startServiceRequest struct {
	Label   string
	Request string
	Service string
}

// StartServiceResponse is sent by the phone after starting a service, it contains servicename, port and tells us
// whether we should enable SSL or not.
type StartServiceResponse struct {
	Port             uint16
	Request          string
	Service          string
	EnableServiceSSL bool
	Error            string
}

func getStartServiceResponsefromBytes(plistBytes []byte) (StartServiceResponse, error) {
	decoder := plist.NewDecoder(bytes.NewReader(plistBytes))
	var data StartServiceResponse
	err := decoder.Decode(&data)
	return data, err
}

// StartService sends a StartServiceRequest using the provided serviceName and returns
// what is needed to connect to it. The port can be used with a new UsbMuxConnection
// and ConnectToStartedService.
func (lockDownConn *LockDownConnection) StartService(serviceName string) (StartServiceResponse, error) {
	err := lockDownConn.Send(startServiceRequest{Label: lockDownConn.label, Request: "StartService", Service: serviceName})
	if err != nil {
		return StartServiceResponse{}, err
	}
	resp, err := lockDownConn.ReadMessage()
	if err != nil {
		return StartServiceResponse{}, err
	}
	response, err := getStartServiceResponsefromBytes(resp)
	if err != nil {
		return StartServiceResponse{}, fmt.Errorf("failed decoding StartService response: %w", err)
	}
	if response.Error != "" {
		return StartServiceResponse{}, fmt.Errorf("could not start service:%s with reason:'%s'", serviceName, response.Error)
	}
	if response.Port == 0 {
		return StartServiceResponse{}, fmt.Errorf("could not start service:%s, device returned no port", serviceName)
	}
	log.WithFields(log.Fields{"Port": response.Port, "Request": response.Request, "Service": response.Service, "EnableServiceSSL": response.EnableServiceSSL}).Debug("Service started on device")
	return response, nil
}
