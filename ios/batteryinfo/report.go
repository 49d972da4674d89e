package batteryinfo

import (
	"fmt"

	ios "github.com/batterymanager/batteryinfo/ios"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

// DeviceReport is what lockdown tells about the device and its charge state.
type DeviceReport struct {
	UDID                   string `json:"UDID"`
	DeviceName             string `json:"DeviceName"`
	ProductType            string `json:"ProductType"`
	ModelName              string `json:"ModelName"`
	ProductVersion         string `json:"ProductVersion"`
	OSMajorVersion         int64  `json:"OSMajorVersion"`
	SerialNumber           string `json:"SerialNumber"`
	BatteryCurrentCapacity int64  `json:"BatteryCurrentCapacity"`
	BatteryIsCharging      bool   `json:"BatteryIsCharging"`
	FullyCharged           bool   `json:"FullyCharged"`
	ExternalConnected      bool   `json:"ExternalConnected"`
}

var deviceKeys = []string{"DeviceName", "ProductType", "ProductVersion", "SerialNumber"}

var batteryKeys = []string{"BatteryCurrentCapacity", "BatteryIsCharging", "FullyCharged", "ExternalConnected"}

// NewDeviceReport builds a report from lockdown values. device holds the default domain,
// battery the ios.BatteryDomain values.
func NewDeviceReport(udid string, device map[string]interface{}, battery map[string]interface{}) DeviceReport {
	r := DeviceReport{
		UDID:                   udid,
		DeviceName:             cast.ToString(device["DeviceName"]),
		ProductType:            cast.ToString(device["ProductType"]),
		ProductVersion:         cast.ToString(device["ProductVersion"]),
		SerialNumber:           cast.ToString(device["SerialNumber"]),
		BatteryCurrentCapacity: intValue(battery, "BatteryCurrentCapacity"),
		BatteryIsCharging:      boolValue(battery, "BatteryIsCharging"),
		FullyCharged:           boolValue(battery, "FullyCharged"),
		ExternalConnected:      boolValue(battery, "ExternalConnected"),
	}
	r.ModelName = ModelName(r.ProductType)
	if r.ProductVersion != "" {
		v, err := ios.ParseProductVersion(r.ProductVersion)
		if err != nil {
			log.WithError(err).Debug("keeping OSMajorVersion at 0")
		} else {
			r.OSMajorVersion = v.Major()
		}
	}
	return r
}

// RunDeviceReport finds the device, starts a session and writes its DeviceReport as
// JSON. Missing values are left empty, only discovery and the session are fatal.
func (f *Fetcher) RunDeviceReport() (Outcome, error) {
	logger := log.WithFields(log.Fields{"run": uuid.New().String(), "label": f.label})

	device, err := f.backend.FindDevice(f.udid)
	if err != nil {
		f.notices.WithError(err).Error("No device found")
		return Fatal, fmt.Errorf("device discovery: %w", err)
	}
	defer release(logger, "device", device.Release)

	session, err := f.backend.StartSession(device, f.label)
	if err != nil {
		f.notices.WithError(err).Error("Could not connect to lockdownd")
		return Fatal, fmt.Errorf("lockdown session: %w", err)
	}
	defer release(logger, "session", session.Close)

	report := NewDeviceReport(device.UDID(),
		readValues(logger, session, "", deviceKeys),
		readValues(logger, session, ios.BatteryDomain, batteryKeys))
	out, err := marshalJSON(report)
	if err != nil {
		f.notices.WithError(err).Error("Failed to render device report")
		return SoftFailure, err
	}
	_, err = f.output.Write(out)
	if err != nil {
		f.notices.WithError(err).Error("Failed to write output")
		return SoftFailure, fmt.Errorf("write output: %w", err)
	}
	return Success, nil
}

func readValues(logger *log.Entry, session Session, domain string, keys []string) map[string]interface{} {
	values := map[string]interface{}{}
	for _, key := range keys {
		v, err := session.GetValue(domain, key)
		if err != nil {
			logger.WithError(err).WithFields(log.Fields{"domain": domain, "key": key}).Debug("lockdown value not available")
			continue
		}
		values[key] = v
	}
	return values
}
