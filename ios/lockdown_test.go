package ios_test

import (
	"testing"

	ios "github.com/batterymanager/batteryinfo/ios"
	"github.com/batterymanager/batteryinfo/ios/muxtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const relayService = "com.apple.mobile.diagnostics_relay"

func newLockdownDevice() *muxtest.Device {
	device := muxtest.NewDevice("udid-lockdown", 7)
	device.Values[""] = map[string]interface{}{"ProductVersion": "16.4.1", "ProductType": "iPhone14,5"}
	device.Values[ios.BatteryDomain] = map[string]interface{}{"BatteryCurrentCapacity": 87, "BatteryIsCharging": true}
	return device
}

func TestLockdownSession(t *testing.T) {
	device := newLockdownDevice()
	server := muxtest.NewServer(t, device)

	entry, err := ios.GetDevice("")
	require.NoError(t, err)
	pairRecord, err := ios.ReadPairRecord(entry.UDID())
	require.NoError(t, err)
	assert.Equal(t, device.PairRecord.HostID, pairRecord.HostID)

	conn, err := ios.ConnectLockdownWithSession(entry, pairRecord, "get_battery_info")
	require.NoError(t, err)
	assert.Equal(t, "SESSION-udid-lockdown", conn.SessionID())
	assert.Equal(t, "get_battery_info", conn.Label())

	version, err := conn.GetValueForDomain("ProductVersion", "")
	require.NoError(t, err)
	assert.Equal(t, "16.4.1", version)

	capacity, err := conn.GetValueForDomain("BatteryCurrentCapacity", ios.BatteryDomain)
	require.NoError(t, err)
	assert.Equal(t, uint64(87), capacity)

	_, err = conn.GetValueForDomain("WiFiAddress", "")
	assert.Error(t, err)

	resp, err := conn.StartService(relayService)
	require.NoError(t, err)
	assert.Equal(t, muxtest.DefaultServicePort, resp.Port)
	assert.Equal(t, relayService, resp.Service)
	assert.False(t, resp.EnableServiceSSL)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.Equal(t, []string{
		"usbmux ListDevices",
		"usbmux ReadPairRecord",
		"usbmux Connect",
		"lockdown QueryType",
		"lockdown StartSession",
		"lockdown GetValue",
		"lockdown GetValue",
		"lockdown GetValue",
		"lockdown StartService",
		"lockdown StopSession",
	}, server.Events())
}

func TestLockdownFailures(t *testing.T) {
	testCases := map[string]struct {
		setup        func(d *muxtest.Device)
		failsSession bool
		failsService bool
	}{
		"not lockdownd":       {setup: func(d *muxtest.Device) { d.RejectQueryType = true }, failsSession: true},
		"session rejected":    {setup: func(d *muxtest.Device) { d.RejectSession = true }, failsSession: true},
		"wrong host id":       {setup: func(d *muxtest.Device) { d.PairRecord.HostID = "OTHER" }, failsSession: true},
		"service not started": {setup: func(d *muxtest.Device) { d.RejectService = true }, failsService: true},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			device := newLockdownDevice()
			pairRecord := device.PairRecord
			tc.setup(device)
			muxtest.NewServer(t, device)

			entry, err := ios.GetDevice("")
			require.NoError(t, err)
			conn, err := ios.ConnectLockdownWithSession(entry, pairRecord, "get_battery_info")
			if tc.failsSession {
				assert.Error(t, err)
				assert.Nil(t, conn)
				return
			}
			require.NoError(t, err)
			defer conn.Close()
			_, err = conn.StartService(relayService)
			assert.Equal(t, tc.failsService, err != nil)
		})
	}
}

func TestReadPairRecordMissing(t *testing.T) {
	device := newLockdownDevice()
	device.NoPairRecord = true
	muxtest.NewServer(t, device)

	_, err := ios.ReadPairRecord(device.UDID)
	assert.Error(t, err)
}

func TestConnectToStartedService(t *testing.T) {
	device := newLockdownDevice()
	muxtest.NewServer(t, device)

	entry, err := ios.GetDevice("")
	require.NoError(t, err)
	conn, err := ios.ConnectLockdownWithSession(entry, device.PairRecord, "get_battery_info")
	require.NoError(t, err)
	defer conn.Close()

	resp, err := conn.StartService(relayService)
	require.NoError(t, err)
	serviceConn, err := ios.ConnectToStartedService(entry, resp, device.PairRecord)
	require.NoError(t, err)
	assert.NoError(t, serviceConn.Close())

	resp.Port++
	_, err = ios.ConnectToStartedService(entry, resp, device.PairRecord)
	assert.Error(t, err, "nothing listens on another port")
}

func TestLockdownSessionOverTLS(t *testing.T) {
	device := newLockdownDevice()
	device.SSL = true
	server := muxtest.NewServer(t, device)

	entry, err := ios.GetDevice("")
	require.NoError(t, err)
	pairRecord, err := ios.ReadPairRecord(entry.UDID())
	require.NoError(t, err)

	conn, err := ios.ConnectLockdownWithSession(entry, pairRecord, "get_battery_info")
	require.NoError(t, err)
	version, err := conn.GetValueForDomain("ProductVersion", "")
	require.NoError(t, err)
	assert.Equal(t, "16.4.1", version)

	resp, err := conn.StartService(relayService)
	require.NoError(t, err)
	assert.True(t, resp.EnableServiceSSL)
	serviceConn, err := ios.ConnectToStartedService(entry, resp, pairRecord)
	require.NoError(t, err)
	require.NoError(t, serviceConn.Close())

	require.NoError(t, conn.Close())
	assert.Equal(t, "lockdown StopSession", server.Events()[len(server.Events())-1])
}

func TestLockdownTLSNeedsHostCertificate(t *testing.T) {
	testCases := map[string]func(p *ios.PairRecord){
		"no host certificate": func(p *ios.PairRecord) { p.HostCertificate = nil },
		"foreign certificate": func(p *ios.PairRecord) {
			other := muxtest.NewDevice("udid-other", 8)
			p.HostCertificate = other.PairRecord.HostCertificate
			p.HostPrivateKey = other.PairRecord.HostPrivateKey
		},
	}

	for name, change := range testCases {
		t.Run(name, func(t *testing.T) {
			device := newLockdownDevice()
			device.SSL = true
			muxtest.NewServer(t, device)

			entry, err := ios.GetDevice("")
			require.NoError(t, err)
			pairRecord := device.PairRecord
			change(&pairRecord)
			conn, err := ios.ConnectLockdownWithSession(entry, pairRecord, "get_battery_info")
			if err == nil {
				// TLS 1.3 clients learn about a rejected certificate on the first read
				_, err = conn.GetValueForDomain("ProductVersion", "")
				conn.Close()
			}
			assert.Error(t, err)
		})
	}
}
