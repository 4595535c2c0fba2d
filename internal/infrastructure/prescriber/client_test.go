package prescriber

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Success(t *testing.T) {
	var got GenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/prescriptions/generate", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-API-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true,"data":{"prescription_id":"rx1","frequencies":["432hz"]}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/", APIKey: "key"})
	resp, err := c.Generate(context.Background(), GenerateRequest{UserID: "u1", PackageType: "basic", Reason: "purchase"})

	require.NoError(t, err)
	assert.Equal(t, "rx1", resp.Data.PrescriptionID)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "purchase", got.Reason)
}

func TestGenerate_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.Generate(context.Background(), GenerateRequest{UserID: "u1"})
	assert.Error(t, err)
}

func TestGenerate_UnsuccessfulBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"questionnaire incomplete"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	_, err := c.Generate(context.Background(), GenerateRequest{UserID: "u1"})
	assert.ErrorContains(t, err, "questionnaire incomplete")
}
