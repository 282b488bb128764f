package gameapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"giftops/pkg/config"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("gameapi", fx.Provide(New))

const (
	pathPlayer  = "/player"
	pathCaptcha = "/captcha"
	pathRedeem  = "/gift_code"
)

// ErrLoginFailed is returned when the service rejects a login (role does
// not exist, wrong kingdom, etc.) as opposed to a transport failure.
var ErrLoginFailed = errors.New("gameapi: login rejected")

// Response is the envelope every endpoint answers with.
type Response struct {
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	ErrCode int             `json:"err_code"`
	Data    json.RawMessage `json:"data"`
}

// Player is the subset of the login payload the engine cares about.
type Player struct {
	FID         string `json:"fid"`
	Nickname    string `json:"nickname"`
	KID         int    `json:"kid"`
	StoveLv     int    `json:"stove_lv"`
	AvatarImage string `json:"avatar_image"`
}

// Client signs and performs calls against the external gift-code service.
// Transport-level failures (429/5xx, connection errors) are retried with
// bounded exponential backoff by the underlying retryablehttp client,
// independent of the engine's own retry scheduling.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	secret  string
}

func New(cfg *config.Config) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.Game.RetryMax
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 15 * time.Second
	rc.HTTPClient.Timeout = cfg.Game.Timeout
	rc.Logger = nil

	return &Client{
		http:    rc,
		baseURL: strings.TrimSuffix(cfg.Game.BaseURL, "/"),
		secret:  cfg.Game.SignSecret,
	}
}

func (c *Client) post(ctx context.Context, path string, params map[string]any) (*Response, error) {
	body, err := json.Marshal(signedForm(params, c.secret))
	if err != nil {
		return nil, fmt.Errorf("gameapi: encode request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gameapi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gameapi: %s: %w", path, err)
	}
	defer resp.Body.Close()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("gameapi: decode %s response: %w", path, err)
	}
	return &out, nil
}

// Login resolves a player identity. The service requires a login before it
// will hand out captcha images or accept redemptions for that identity.
func (c *Client) Login(ctx context.Context, fid string) (*Player, error) {
	resp, err := c.post(ctx, pathPlayer, map[string]any{
		"fid":  fid,
		"time": time.Now().UnixMilli(),
	})
	if err != nil {
		return nil, err
	}

	if !strings.EqualFold(strings.TrimSuffix(strings.TrimSpace(resp.Msg), "."), "success") {
		return nil, fmt.Errorf("%w: fid=%s msg=%q err_code=%d", ErrLoginFailed, fid, resp.Msg, resp.ErrCode)
	}

	var p Player
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &p); err != nil {
			zap.L().Warn("gameapi: login payload did not decode", zap.String("fid", fid), zap.Error(err))
		}
	}
	p.FID = fid
	return &p, nil
}

type captchaData struct {
	Img string `json:"img"`
}

// GetCaptcha fetches one captcha image for the identity. A rate-limit
// answer comes back as StatusCaptchaTooFrequent with no image.
func (c *Client) GetCaptcha(ctx context.Context, fid string) ([]byte, Status, error) {
	resp, err := c.post(ctx, pathCaptcha, map[string]any{
		"fid":  fid,
		"time": time.Now().UnixMilli(),
		"init": 0,
	})
	if err != nil {
		return nil, StatusTimeoutRetry, err
	}

	st := Classify(resp.Msg, resp.ErrCode)
	if st == StatusCaptchaTooFrequent {
		return nil, st, nil
	}

	var data captchaData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, StatusUnknown, fmt.Errorf("gameapi: decode captcha payload: %w", err)
	}

	img, err := decodeCaptchaImage(data.Img)
	if err != nil {
		return nil, StatusUnknown, err
	}
	return img, StatusSuccess, nil
}

// decodeCaptchaImage strips the data-URI prefix and base64-decodes the
// image bytes.
func decodeCaptchaImage(raw string) ([]byte, error) {
	if idx := strings.Index(raw, "base64,"); idx >= 0 {
		raw = raw[idx+len("base64,"):]
	}
	img, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("gameapi: decode captcha image: %w", err)
	}
	if len(img) == 0 {
		return nil, errors.New("gameapi: empty captcha image")
	}
	return img, nil
}

// Redeem submits one redemption attempt and classifies the answer.
func (c *Client) Redeem(ctx context.Context, fid, code, captchaCode string) (Status, *Response, error) {
	resp, err := c.post(ctx, pathRedeem, map[string]any{
		"fid":          fid,
		"cdk":          code,
		"captcha_code": captchaCode,
		"time":         time.Now().UnixMilli(),
	})
	if err != nil {
		return StatusTimeoutRetry, nil, err
	}

	return Classify(resp.Msg, resp.ErrCode), resp, nil
}
