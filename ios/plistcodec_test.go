package ios_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	ios "github.com/batterymanager/batteryinfo/ios"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlistCodec(t *testing.T) {
	codec := ios.NewPlistCodec()
	testCases := map[string]struct {
		data interface{}
	}{
		"relay request":     {map[string]interface{}{"Request": "GasGauge"}},
		"lockdown response": {ios.StartServiceResponse{Port: 49152, Request: "StartService", Service: "com.apple.mobile.diagnostics_relay"}},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			actual, err := codec.Encode(tc.data)
			require.NoError(t, err)
			payload, err := ios.ToPlistBytes(tc.data)
			require.NoError(t, err)

			assert.Equal(t, uint32(len(payload)), binary.BigEndian.Uint32(actual[:4]))
			assert.Equal(t, payload, actual[4:])

			result, err := codec.Decode(bytes.NewReader(actual))
			require.NoError(t, err)
			assert.Equal(t, payload, result)
		})
	}
}

func TestPlistCodecDecodeErrors(t *testing.T) {
	codec := ios.NewPlistCodec()

	_, err := codec.Decode(nil)
	assert.Error(t, err)

	_, err = codec.Decode(bytes.NewReader([]byte{0, 0}))
	assert.Error(t, err, "short length prefix")

	_, err = codec.Decode(bytes.NewReader([]byte{0, 0, 0, 10, 'a', 'b'}))
	assert.Error(t, err, "truncated payload")

	_, err = codec.Decode(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}))
	assert.Error(t, err, "oversized message")
}
