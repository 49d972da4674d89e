package batteryinfo_test

import (
	"bytes"
	"errors"
	"testing"

	ios "github.com/batterymanager/batteryinfo/ios"
	"github.com/batterymanager/batteryinfo/ios/batteryinfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDeviceReport(t *testing.T) {
	report := batteryinfo.NewDeviceReport("udid-1",
		map[string]interface{}{"DeviceName": "Kitchen iPad", "ProductType": "iPad13,18", "ProductVersion": "17.2"},
		map[string]interface{}{"BatteryCurrentCapacity": uint64(42), "FullyCharged": false, "BatteryIsCharging": "true"},
	)
	assert.Equal(t, "udid-1", report.UDID)
	assert.Equal(t, "iPad (10th generation)", report.ModelName)
	assert.Equal(t, int64(17), report.OSMajorVersion)
	assert.Equal(t, int64(42), report.BatteryCurrentCapacity)
	assert.True(t, report.BatteryIsCharging)
	assert.Empty(t, report.SerialNumber)

	report = batteryinfo.NewDeviceReport("udid-2", map[string]interface{}{"ProductVersion": "beta"}, nil)
	assert.Equal(t, int64(0), report.OSMajorVersion)
	assert.Equal(t, "", report.ModelName)
}

func TestRunDeviceReport(t *testing.T) {
	backend := &fakeBackend{values: map[string]interface{}{
		"/DeviceName":     "Test iPhone",
		"/ProductType":    "iPhone11,8",
		"/ProductVersion": "15.7",
		ios.BatteryDomain + "/BatteryCurrentCapacity": uint64(64),
	}}
	stdout := new(bytes.Buffer)
	outcome, err := batteryinfo.NewFetcher(backend,
		batteryinfo.WithOutput(stdout),
		batteryinfo.WithNotices(batteryinfo.NewNoticeLogger(new(bytes.Buffer))),
	).RunDeviceReport()
	require.NoError(t, err)
	assert.Equal(t, batteryinfo.Success, outcome)
	assert.Contains(t, stdout.String(), `"ModelName": "iPhone XR"`)
	assert.Contains(t, stdout.String(), `"BatteryCurrentCapacity": 64`)
	assert.Equal(t, []string{"acquire device", "acquire session get_battery_info", "release session", "release device"}, backend.events)
}

func TestRunDeviceReportFatal(t *testing.T) {
	backend := &fakeBackend{sessionErr: errors.New("InvalidHostID")}
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	outcome, err := batteryinfo.NewFetcher(backend,
		batteryinfo.WithOutput(stdout),
		batteryinfo.WithNotices(batteryinfo.NewNoticeLogger(stderr)),
	).RunDeviceReport()
	assert.Error(t, err)
	assert.Equal(t, batteryinfo.Fatal, outcome)
	assert.Empty(t, stdout.String())
	assert.Equal(t, "ERROR: Could not connect to lockdownd: InvalidHostID\n", stderr.String())
	assert.Equal(t, []string{"acquire device", "release device"}, backend.events)
}
