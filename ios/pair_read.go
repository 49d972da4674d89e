package ios

import (
	"bytes"
	"fmt"

	plist "howett.net/plist"
)

// ReadPair contains all the Infos necessary to request a PairRecord from usbmuxd.
type ReadPair struct {
	BundleID            string
	ClientVersionString string
	MessageType         string
	ProgName            string
	LibUSBMuxVersion    uint32 `plist:"kLibUSBMuxVersion"`
	PairRecordID        string
}

func newReadPair(udid string) ReadPair {
	return ReadPair{
		BundleID:            bundleID,
		ClientVersionString: clientVersion,
		MessageType:         "ReadPairRecord",
		ProgName:            progName,
		LibUSBMuxVersion:    3,
		PairRecordID:        udid,
	}
}

// PairRecordData only holds a []byte containing the PairRecord data as
// a serialized Plist.
type PairRecordData struct {
	PairRecordData []byte
}

// PairRecord is what the host stored when the device was trusted.
// It is needed for starting lockdown sessions and enabling SSL.
type PairRecord struct {
	HostID            string
	SystemBUID        string
	HostCertificate   []byte
	HostPrivateKey    []byte
	DeviceCertificate []byte
	EscrowBag         []byte
	WiFiMACAddress    string
	RootCertificate   []byte
	RootPrivateKey    []byte
}

// Wipe overwrites the key material so it does not outlive the device handle.
func (p *PairRecord) Wipe() {
	for _, b := range [][]byte{p.HostPrivateKey, p.RootPrivateKey, p.EscrowBag} {
		for i := range b {
			b[i] = 0
		}
	}
	*p = PairRecord{}
}

func pairRecordDatafromBytes(plistBytes []byte) (PairRecordData, error) {
	decoder := plist.NewDecoder(bytes.NewReader(plistBytes))
	var data PairRecordData
	err := decoder.Decode(&data)
	if err != nil {
		return data, fmt.Errorf("failed decoding pair record response: %w", err)
	}
	if data.PairRecordData == nil {
		resp, _ := MuxResponsefromBytes(plistBytes)
		return data, fmt.Errorf("ReadPair failed with errorcode '%d', is the device paired?", resp.Number)
	}
	return data, nil
}

// PairRecordfromBytes parses a plist into a PairRecord
func PairRecordfromBytes(plistBytes []byte) (PairRecord, error) {
	decoder := plist.NewDecoder(bytes.NewReader(plistBytes))
	var data PairRecord
	err := decoder.Decode(&data)
	if err != nil {
		return PairRecord{}, fmt.Errorf("failed decoding pair record plist: %w", err)
	}
	return data, nil
}

// ReadPair reads the PairRecord from the usbmux socket for the given udid.
func (muxConn *UsbMuxConnection) ReadPair(udid string) (PairRecord, error) {
	err := muxConn.Send(newReadPair(udid))
	if err != nil {
		return PairRecord{}, err
	}
	resp, err := muxConn.ReadMessage()
	if err != nil {
		return PairRecord{}, fmt.Errorf("error reading PairRecord: %w", err)
	}
	pairRecordData, err := pairRecordDatafromBytes(resp.Payload)
	if err != nil {
		return PairRecord{}, err
	}
	return PairRecordfromBytes(pairRecordData.PairRecordData)
}

// ReadPairRecord creates a new UsbMuxConnection just to read the pair record and closes it right after.
func ReadPairRecord(udid string) (PairRecord, error) {
	muxConnection, err := NewUsbMuxConnectionSimple()
	if err != nil {
		return PairRecord{}, err
	}
	defer muxConnection.Close()
	return muxConnection.ReadPair(udid)
}
