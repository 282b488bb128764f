package gameapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"giftops/pkg/config"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.Config{}
	cfg.Game.BaseURL = srv.URL
	cfg.Game.SignSecret = "test-secret"
	cfg.Game.Timeout = 5 * time.Second
	cfg.Game.RetryMax = 1

	return New(cfg), srv
}

func decodeRequest(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestLoginSignsRequest(t *testing.T) {
	var got map[string]any
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathPlayer, r.URL.Path)
		got = decodeRequest(t, r)
		json.NewEncoder(w).Encode(Response{Msg: "success", Data: json.RawMessage(`{"nickname":"Ruby","kid":77,"stove_lv":30}`)})
	}))

	p, err := client.Login(context.Background(), "12345")
	require.NoError(t, err)
	require.Equal(t, "12345", p.FID)
	require.Equal(t, "Ruby", p.Nickname)
	require.Equal(t, 30, p.StoveLv)

	// The sign field must match a recomputation over the other fields.
	sign, ok := got["sign"].(string)
	require.True(t, ok)
	delete(got, "sign")
	require.Equal(t, Sign(got, "test-secret"), sign)
}

func TestLoginRejected(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Response{Msg: "role not exist", ErrCode: 40003})
	}))

	_, err := client.Login(context.Background(), "404")
	require.ErrorIs(t, err, ErrLoginFailed)
}

func TestGetCaptchaDecodesImage(t *testing.T) {
	img := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}
	encoded := "data:image/png;base64," + base64.StdEncoding.EncodeToString(img)

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathCaptcha, r.URL.Path)
		json.NewEncoder(w).Encode(Response{Msg: "SUCCESS", Data: json.RawMessage(`{"img":"` + encoded + `"}`)})
	}))

	got, st, err := client.GetCaptcha(context.Background(), "12345")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, st)
	require.Equal(t, img, got)
}

func TestGetCaptchaTooFrequent(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Response{Msg: "CAPTCHA GET TOO FREQUENT.", ErrCode: 40100})
	}))

	img, st, err := client.GetCaptcha(context.Background(), "12345")
	require.NoError(t, err)
	require.Nil(t, img)
	require.Equal(t, StatusCaptchaTooFrequent, st)
}

func TestRedeemClassifies(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathRedeem, r.URL.Path)
		body := decodeRequest(t, r)
		require.Equal(t, "WINTER25", body["cdk"])
		require.Equal(t, "AB12", body["captcha_code"])
		json.NewEncoder(w).Encode(Response{Msg: "RECEIVED.", ErrCode: 40008})
	}))

	st, resp, err := client.Redeem(context.Background(), "12345", "WINTER25", "AB12")
	require.NoError(t, err)
	require.Equal(t, StatusReceived, st)
	require.Equal(t, 40008, resp.ErrCode)
}

func TestRedeemTransportRetry(t *testing.T) {
	attempts := 0
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(Response{Msg: "SUCCESS"})
	}))

	st, _, err := client.Redeem(context.Background(), "12345", "CODE", "XY89")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, st)
	require.Equal(t, 2, attempts)
}
