package diagnostics_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	ios "github.com/batterymanager/batteryinfo/ios"
	"github.com/batterymanager/batteryinfo/ios/diagnostics"
	"github.com/batterymanager/batteryinfo/ios/muxtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type DeviceConnectionMock struct {
	mock.Mock
}

func (mock *DeviceConnectionMock) Close() error {
	args := mock.Called()
	return args.Error(0)
}

func (mock *DeviceConnectionMock) Send(message []byte) error {
	args := mock.Called(message)
	return args.Error(0)
}

func (mock *DeviceConnectionMock) Reader() io.Reader {
	args := mock.Called()
	return args.Get(0).(io.Reader)
}

func (mock *DeviceConnectionMock) Writer() io.Writer {
	args := mock.Called()
	return args.Get(0).(io.Writer)
}

func (mock *DeviceConnectionMock) EnableSessionSsl(pairRecord ios.PairRecord) error {
	args := mock.Called(pairRecord)
	return args.Error(0)
}

func encode(t *testing.T, msg interface{}) []byte {
	t.Helper()
	b, err := ios.NewPlistCodec().Encode(msg)
	require.NoError(t, err)
	return b
}

func TestRequest(t *testing.T) {
	gasGauge := map[string]interface{}{"GasGauge": map[string]interface{}{"CycleCount": 12}}

	testCases := map[string]struct {
		query    diagnostics.Query
		request  map[string]interface{}
		reply    map[string]interface{}
		expected diagnostics.Document
		err      error
	}{
		"key query": {
			query:    diagnostics.KeyQuery("GasGauge"),
			request:  map[string]interface{}{"Request": "GasGauge"},
			reply:    map[string]interface{}{"Status": "Success", "Diagnostics": gasGauge},
			expected: diagnostics.Document{"GasGauge": map[string]interface{}{"CycleCount": uint64(12)}},
		},
		"ioregistry query": {
			query:    diagnostics.IORegistryQuery("AppleSmartBattery"),
			request:  map[string]interface{}{"Request": "IORegistry", "EntryClass": "AppleSmartBattery"},
			reply:    map[string]interface{}{"Status": "Success", "Diagnostics": map[string]interface{}{"IORegistry": map[string]interface{}{"Voltage": 4012}}},
			expected: diagnostics.Document{"IORegistry": map[string]interface{}{"Voltage": uint64(4012)}},
		},
		"success without data": {
			query:   diagnostics.KeyQuery("All"),
			request: map[string]interface{}{"Request": "All"},
			reply:   map[string]interface{}{"Status": "Success"},
		},
		"unknown request": {
			query:   diagnostics.KeyQuery("All"),
			request: map[string]interface{}{"Request": "All"},
			reply:   map[string]interface{}{"Status": "UnknownRequest"},
			err:     diagnostics.ErrUnknownRequest,
		},
		"failed request": {
			query:   diagnostics.KeyQuery("GasGauge"),
			request: map[string]interface{}{"Request": "GasGauge"},
			reply:   map[string]interface{}{"Status": "Failure"},
			err:     diagnostics.ErrRequestFailed,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			deviceConn := new(DeviceConnectionMock)
			deviceConn.On("Send", encode(t, tc.request)).Return(nil).Once()
			deviceConn.On("Reader").Return(bytes.NewReader(encode(t, tc.reply))).Once()

			doc, err := diagnostics.NewWithConn(deviceConn).Request(tc.query)
			deviceConn.AssertExpectations(t)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				assert.Nil(t, doc)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, doc)
		})
	}
}

func TestRequestSendFails(t *testing.T) {
	deviceConn := new(DeviceConnectionMock)
	deviceConn.On("Send", mock.Anything).Return(errors.New("broken pipe"))

	_, err := diagnostics.NewWithConn(deviceConn).Request(diagnostics.KeyQuery("All"))
	assert.EqualError(t, err, "broken pipe")
	deviceConn.AssertNotCalled(t, "Reader")
}

func TestGoodbyeAndClose(t *testing.T) {
	deviceConn := new(DeviceConnectionMock)
	deviceConn.On("Send", encode(t, map[string]interface{}{"Request": "Goodbye"})).Return(nil).Once()
	deviceConn.On("Reader").Return(bytes.NewReader(encode(t, map[string]interface{}{"Status": "Success"}))).Once()
	deviceConn.On("Close").Return(nil).Once()

	conn := diagnostics.NewWithConn(deviceConn)
	require.NoError(t, conn.Goodbye())
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	_, err := conn.Request(diagnostics.KeyQuery("All"))
	assert.Error(t, err)
	deviceConn.AssertExpectations(t)
}

func TestQueryString(t *testing.T) {
	assert.Equal(t, "GasGauge", diagnostics.KeyQuery("GasGauge").String())
	assert.Equal(t, "AppleARMPMUCharger", diagnostics.IORegistryQuery("AppleARMPMUCharger").String())
	assert.Equal(t, "AppleSmartBattery", diagnostics.Query{Key: "IORegistry", EntryName: "AppleSmartBattery"}.String())
}

func TestRelayOverUsbmux(t *testing.T) {
	device := muxtest.NewDevice("udid-relay", 4)
	device.Diagnostics["GasGauge"] = muxtest.Reply{Document: map[string]interface{}{
		"GasGauge": map[string]interface{}{"CycleCount": 301, "DesignCapacity": 3227},
	}}
	device.Diagnostics["IORegistry/AppleSmartBattery"] = muxtest.Reply{Document: map[string]interface{}{
		"IORegistry": map[string]interface{}{"AppleRawMaxCapacity": 2800},
	}}
	server := muxtest.NewServer(t, device)

	entry, err := ios.GetDevice("")
	require.NoError(t, err)
	pairRecord, err := ios.ReadPairRecord(entry.UDID())
	require.NoError(t, err)
	lockdown, err := ios.ConnectLockdownWithSession(entry, pairRecord, "get_battery_info")
	require.NoError(t, err)
	defer lockdown.Close()
	resp, err := lockdown.StartService(diagnostics.ServiceName)
	require.NoError(t, err)

	relay, err := diagnostics.New(entry, resp, pairRecord)
	require.NoError(t, err)

	_, err = relay.Request(diagnostics.KeyQuery("All"))
	assert.ErrorIs(t, err, diagnostics.ErrUnknownRequest)

	doc, err := relay.Request(diagnostics.KeyQuery("GasGauge"))
	require.NoError(t, err)
	assert.Equal(t, uint64(301), doc["GasGauge"].(map[string]interface{})["CycleCount"])

	doc, err = relay.Request(diagnostics.IORegistryQuery("AppleSmartBattery"))
	require.NoError(t, err)
	assert.Contains(t, doc, "IORegistry")

	require.NoError(t, relay.Goodbye())
	require.NoError(t, relay.Close())

	assert.Subset(t, server.Events(), []string{"relay All", "relay GasGauge", "relay IORegistry/AppleSmartBattery", "relay Goodbye"})
}

func TestNewRejectsOtherService(t *testing.T) {
	_, err := diagnostics.New(ios.DeviceEntry{}, ios.StartServiceResponse{Service: "com.apple.syslog_relay", Port: 1}, ios.PairRecord{})
	assert.Error(t, err)
}
