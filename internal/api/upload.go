package api

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
)

type uploadResult struct {
	Ref string `json:"ref"`
}

// UploadProof stores an image blob and returns its reference string. The
// bytes are opaque to the client; inspection and URL construction belong
// to the platform.
func (c *Client) UploadProof(ctx context.Context, blob []byte, contentType string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", "proof")
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := part.Write(blob); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if contentType != "" {
		if err := mw.WriteField("content_type", contentType); err != nil {
			return "", fmt.Errorf("build upload form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/uploads", &buf)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.write.Do(req)
	if err != nil {
		return "", &NetworkError{Op: "POST /api/uploads", Err: err}
	}

	var result uploadResult
	found, err := c.decode(resp, "/api/uploads", &result)
	if err != nil {
		return "", err
	}
	if !found {
		return "", &NotFoundError{Resource: "upload endpoint", ID: "/api/uploads"}
	}
	return result.Ref, nil
}
