package rest

import (
	"context"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
)

func objectPath(bucket, key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return url.PathEscape(bucket) + "/" + strings.Join(segs, "/")
}

// Upload never overwrites: an existing key answers 409 from the backend.
func (c *Client) Upload(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := c.do(ctx, request{
		method:  fiber.MethodPost,
		path:    "/storage/v1/object/" + objectPath(bucket, key),
		headers: map[string]string{"x-upsert": "false"},
		body:    body,
		ctype:   contentType,
	})
	return err
}

func (c *Client) Remove(ctx context.Context, bucket string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := c.do(ctx, request{
		method: fiber.MethodDelete,
		path:   "/storage/v1/object/" + url.PathEscape(bucket),
		json:   map[string][]string{"prefixes": keys},
	})
	return err
}

func (c *Client) PublicURL(bucket, key string) string {
	return c.baseURL + "/storage/v1/object/public/" + objectPath(bucket, key)
}
