package rules

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/banshee-data/boardwatch/internal/httputil"
)

// ErrServiceUnavailable wraps every failure to get a verdict from the rules
// service: transport errors, timeouts and non-2xx replies.
var ErrServiceUnavailable = errors.New("rules service unavailable")

// ValidatePath is the route served by Handler.
const ValidatePath = "/validate_and_predict"

const maxRequestBytes = 4096

// Handler serves POST /validate_and_predict.
func (s *Service) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		var req Request
		if err := httputil.DecodeJSONBody(r, &req, maxRequestBytes); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		resp, err := s.ValidateAndPredict(r.Context(), req)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		logf("move %s valid=%t ai=%s game_over=%t", req.Move, resp.Valid, resp.AIMove, resp.GameOver)
		httputil.WriteJSONOK(w, resp)
	})
}

// Client calls a remote rules service.
type Client struct {
	url     string
	http    httputil.HTTPClient
	timeout time.Duration
}

// NewClient creates a client for the service at baseURL. A zero timeout means
// the caller's context alone bounds each call.
func NewClient(baseURL string, c httputil.HTTPClient, timeout time.Duration) *Client {
	if c == nil {
		c = httputil.NewStandardClient(nil)
	}
	return &Client{
		url:     strings.TrimRight(baseURL, "/") + ValidatePath,
		http:    c,
		timeout: timeout,
	}
}

// ValidateAndPredict asks the service to judge a move.
func (c *Client) ValidateAndPredict(ctx context.Context, req Request) (Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	var resp Response
	if err := httputil.PostJSON(ctx, c.http, c.url, req, &resp); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return resp, nil
}
