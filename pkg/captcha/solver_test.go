package captcha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"giftops/pkg/config"
)

func TestHTTPSolverSolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.NotEmpty(t, body["image"])

		json.NewEncoder(w).Encode(solverResponse{Code: "aB3x", Success: true, Method: "onnx", Confidence: 0.94})
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Game.SolverURL = srv.URL

	res, ok, err := NewHTTPSolver(cfg).Solve(context.Background(), []byte{1, 2, 3})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "aB3x", res.Text)
	require.Equal(t, "onnx", res.Method)
	require.InDelta(t, 0.94, res.Confidence, 0.001)
}

func TestHTTPSolverNoAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(solverResponse{Success: false})
	}))
	defer srv.Close()

	cfg := &config.Config{}
	cfg.Game.SolverURL = srv.URL

	_, ok, err := NewHTTPSolver(cfg).Solve(context.Background(), []byte{1})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestValidFormat(t *testing.T) {
	require.True(t, ValidFormat("aB3x"))
	require.True(t, ValidFormat("1234"))
	require.False(t, ValidFormat("abc"))
	require.False(t, ValidFormat("abcde"))
	require.False(t, ValidFormat("ab!x"))
	require.False(t, ValidFormat(""))
}
