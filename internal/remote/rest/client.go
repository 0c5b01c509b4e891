// Package rest talks to the hosted backend over HTTP: PostgREST rows under
// /rest/v1, object storage under /storage/v1 and password sessions under
// /auth/v1.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	anonKey string
	timeout time.Duration

	mu    sync.RWMutex
	token func() string
}

// New returns a client for the project at baseURL. anonKey is sent as the
// apikey header and as the bearer token until a session token source is set.
func New(baseURL, anonKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		timeout: timeout,
	}
}

// SetTokenSource makes row and storage calls run as the signed-in user.
func (c *Client) SetTokenSource(fn func() string) {
	c.mu.Lock()
	c.token = fn
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	fn := c.token
	c.mu.RUnlock()
	if fn != nil {
		if t := fn(); t != "" {
			return t
		}
	}
	return c.anonKey
}

type request struct {
	method  string
	path    string // includes the query string
	token   string // overrides the token source when set
	headers map[string]string
	json    any
	body    []byte
	ctype   string
}

type response struct {
	status       int
	body         []byte
	contentRange string
}

// do sends one request. A fiber Agent cannot be aborted once it is sending,
// so cancelling ctx only stops requests that have not started; a ctx
// deadline sooner than the client timeout becomes the request timeout.
func (c *Client) do(ctx context.Context, r request) (response, error) {
	if err := ctx.Err(); err != nil {
		return response{}, err
	}
	timeout := c.timeout
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		left := time.Until(deadline)
		if left <= 0 {
			return response{}, context.DeadlineExceeded
		}
		if timeout <= 0 || left < timeout {
			timeout = left
		}
	}

	url := c.baseURL + r.path
	var a *fiber.Agent
	switch r.method {
	case fiber.MethodGet:
		a = fiber.Get(url)
	case fiber.MethodPost:
		a = fiber.Post(url)
	case fiber.MethodPatch:
		a = fiber.Patch(url)
	case fiber.MethodDelete:
		a = fiber.Delete(url)
	default:
		return response{}, fmt.Errorf("rest: unsupported method %s", r.method)
	}

	token := r.token
	if token == "" {
		token = c.bearer()
	}
	a.Set("apikey", c.anonKey)
	a.Set(fiber.HeaderAuthorization, "Bearer "+token)
	for k, v := range r.headers {
		a.Set(k, v)
	}
	switch {
	case r.json != nil:
		a.JSON(r.json)
	case r.body != nil:
		a.ContentType(r.ctype)
		a.Body(r.body)
	}
	if timeout > 0 {
		a.Timeout(timeout)
	}

	resp := fiber.AcquireResponse()
	defer fiber.ReleaseResponse(resp)
	a.SetResponse(resp)

	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		err := errs[0]
		if cerr := ctx.Err(); cerr != nil {
			err = cerr
		} else if hasDeadline && !time.Now().Before(deadline) {
			err = context.DeadlineExceeded
		}
		return response{}, fmt.Errorf("rest: %s %s: %w", r.method, r.path, err)
	}
	out := response{
		status:       code,
		body:         body,
		contentRange: string(resp.Header.Peek(fiber.HeaderContentRange)),
	}
	if code >= 400 {
		return out, decodeAPIError(code, body)
	}
	return out, nil
}

// decodeAPIError understands both the PostgREST shape ({code, message}) and
// the auth/storage shapes ({error, error_description} / {statusCode, error, message}).
func decodeAPIError(status int, body []byte) error {
	var raw struct {
		Code             any    `json:"code"`
		Message          string `json:"message"`
		Msg              string `json:"msg"`
		Hint             string `json:"hint"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		ErrorCode        string `json:"error_code"`
	}
	e := &APIError{Status: status}
	if err := json.Unmarshal(body, &raw); err != nil {
		e.Message = strings.TrimSpace(string(body))
		return e
	}
	switch v := raw.Code.(type) {
	case string:
		e.Code = v
	case float64:
		e.Code = fmt.Sprintf("%d", int(v))
	}
	if raw.ErrorCode != "" {
		e.Code = raw.ErrorCode
	} else if e.Code == "" {
		e.Code = raw.Error
	}
	for _, m := range []string{raw.Message, raw.Msg, raw.ErrorDescription, raw.Error} {
		if m != "" {
			e.Message = m
			break
		}
	}
	e.Hint = raw.Hint
	return e
}

// decodeStrict rejects fields that the destination record does not declare.
func decodeStrict(data []byte, dest any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}
