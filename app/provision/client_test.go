package provision

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler func(body map[string]any) (int, string)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		status, resp := handler(body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	return c
}

func TestCreateAccountSendsPanelFields(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(body map[string]any) (int, string) {
		got = body
		return http.StatusOK, `{"success":true,"data":{"email":"a1b2c3","link":"vless://x","panel_name":"SG 2","data_limit":150}}`
	})

	acc, err := c.CreateAccount(context.Background(), CreateRequest{GB: 150, Name: "a1b2c3", Days: 30, Panel: 2})
	require.NoError(t, err)
	require.Equal(t, "a1b2c3", acc.Email)
	require.Equal(t, "vless://x", acc.Link)
	require.Equal(t, Text("150"), acc.DataLimit)

	require.EqualValues(t, 150, got["key"])
	require.Equal(t, "a1b2c3", got["name"])
	require.EqualValues(t, 30, got["exp"])
	require.EqualValues(t, 2, got["panel"])
}

func TestFailedEnvelopeBecomesAPIError(t *testing.T) {
	c := newTestClient(t, func(map[string]any) (int, string) {
		return http.StatusOK, `{"success":false,"data":{"error":"Account already exists"}}`
	})

	_, err := c.CreateTrial(context.Background(), 42)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, "Account already exists", apiErr.Message)
	require.Equal(t, "trial", apiErr.Action)
}

func TestFailedEnvelopeWithoutMessage(t *testing.T) {
	c := newTestClient(t, func(map[string]any) (int, string) {
		return http.StatusOK, `{"success":false}`
	})
	err := c.DeleteAccount(context.Background(), "abc", 1)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "Unknown error occurred", apiErr.Message)
}

func TestNonJSONResponseIsTransportError(t *testing.T) {
	c := newTestClient(t, func(map[string]any) (int, string) {
		return http.StatusBadGateway, `<html>bad gateway</html>`
	})
	_, err := c.Check(context.Background(), "user@example")
	require.ErrorIs(t, err, ErrTransport)
}

func TestDeleteExpiredOmitsPanelWhenZero(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(body map[string]any) (int, string) {
		got = body
		return http.StatusOK, `{"success":true,"data":{"deleted_count":3,"total_expired_found":4,"failed_deletions":["x"]}}`
	})
	rep, err := c.DeleteExpired(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 3, rep.DeletedCount)
	require.Len(t, rep.FailedDeletions, 1)
	_, hasPanel := got["panel"]
	require.False(t, hasPanel)
}

func TestOnlineFlattenOrdersByPanel(t *testing.T) {
	c := newTestClient(t, func(map[string]any) (int, string) {
		return http.StatusOK, `{"success":true,"data":{"total_online_users":3,"online_users_by_panel":{"SG 2":["c"],"SG 1":["a","b"]}}}`
	})
	online, err := c.Online(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, online.Total)

	rows := online.Flatten()
	require.Len(t, rows, 3)
	require.Equal(t, OnlineUser{Index: 1, Email: "a", Panel: "SG 1"}, rows[0])
	require.Equal(t, OnlineUser{Index: 3, Email: "c", Panel: "SG 2"}, rows[2])
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}
