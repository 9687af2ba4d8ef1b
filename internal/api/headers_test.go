package api

import (
	"slices"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFingerprint_Defaults(t *testing.T) {
	fp := NewFingerprint(FingerprintConfig{})
	h := fp.Headers(Operation{OperationName: "Op", Query: "query Op { x }"})

	assert.Equal(t, DefaultAppVersion, h["x-app-version-number"])
	assert.Equal(t, "21975", h["x-app-build-number"])
	assert.Equal(t, "3.21.1-21975", h["apollographql-client-version"])
	assert.Equal(t, "Lapse/3.21.1/21975 iOS", h["user-agent"])
	assert.Equal(t, DefaultTimezone, h["x-timezone"])
	assert.Equal(t, DefaultClientName, h["apollographql-client-name"])
	assert.Equal(t, DefaultAcceptLanguage, h["accept-language"])
	assert.Equal(t, "*/*", h["accept"])

	assert.True(t, slices.Contains(deviceModels, h["x-device-name"]))
	assert.True(t, slices.Contains(iosVersions, h["x-ios-version-number"]))

	_, err := uuid.Parse(h["x-device-id"])
	require.NoError(t, err)
	assert.Equal(t, fp.DeviceID(), h["x-device-id"])
}

func TestNewFingerprint_Configured(t *testing.T) {
	fp := NewFingerprint(FingerprintConfig{
		AppVersion:     "4.0.0",
		AppBuildNumber: 30000,
		Timezone:       "Europe/Helsinki",
		DeviceID:       "DEVICE-1",
		DeviceName:     "iPhone15,2",
		IOSVersion:     "16.7",
		AcceptLanguage: "fi-FI,fi;q=0.9",
	})
	h := fp.Headers(Operation{OperationName: "Op"})

	assert.Equal(t, "Lapse/4.0.0/30000 iOS", h["user-agent"])
	assert.Equal(t, "Europe/Helsinki", h["x-timezone"])
	assert.Equal(t, "DEVICE-1", h["x-device-id"])
	assert.Equal(t, "iPhone15,2", h["x-device-name"])
	assert.Equal(t, "16.7", h["x-ios-version-number"])
	assert.Equal(t, "fi-FI,fi;q=0.9", h["accept-language"])
}

func TestFingerprint_PerOperationHeaders(t *testing.T) {
	fp := NewFingerprint(FingerprintConfig{DeviceID: "D"})

	q := fp.Headers(Operation{OperationName: "ImageUploadURLGraphQLQuery", Query: "query ImageUploadURLGraphQLQuery { x }"})
	assert.Equal(t, "ImageUploadURLGraphQLQuery", q["x-apollo-operation-name"])
	assert.Equal(t, "query", q["x-apollo-operation-type"])
	assert.Equal(t, "/graphql/ImageUploadURLGraphQLQuery", q["x-emb-path"])

	m := fp.Headers(Operation{OperationName: "CreateMediaGraphQLMutation", Query: "  mutation CreateMediaGraphQLMutation { y }"})
	assert.Equal(t, "mutation", m["x-apollo-operation-type"])
	assert.Equal(t, "/graphql/CreateMediaGraphQLMutation", m["x-emb-path"])

	// Each call returns an independent map.
	m["x-device-id"] = "tampered"
	assert.Equal(t, "D", fp.Headers(Operation{})["x-device-id"])
}

func TestNewDeviceID_Uppercase(t *testing.T) {
	id := NewDeviceID()

	assert.Len(t, id, 36)
	assert.Equal(t, strings.ToUpper(id), id)
	assert.NotEqual(t, id, NewDeviceID())

	_, err := uuid.Parse(id)
	assert.NoError(t, err)
}
