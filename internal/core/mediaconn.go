// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package core

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// uploadURLs maps each media type to its upload host path.
var uploadURLs = map[MediaType]string{
	MediaImage:    "https://mmg.whatsapp.net/mms/image",
	MediaVideo:    "https://mmg.whatsapp.net/mms/video",
	MediaAudio:    "https://mmg.whatsapp.net/mms/audio",
	MediaDocument: "https://mmg.whatsapp.net/mms/document",
}

// MediaConn carries the short-lived auth ticket the server hands out for
// media uploads.
type MediaConn struct {
	Auth string
	TTL  time.Duration
}

// MediaUploadResult is the server's response to a successful upload.
type MediaUploadResult struct {
	URL        string `json:"url"`
	DirectPath string `json:"direct_path"`
}

// MediaUploader performs the HTTP side of media uploads, off the socket
// task. It only ever sees encrypted blobs.
type MediaUploader struct {
	client *http.Client

	// BaseURLs can override uploadURLs, mainly for tests.
	BaseURLs map[MediaType]string
}

// NewMediaUploader builds an uploader with a sane default HTTP client.
func NewMediaUploader() *MediaUploader {
	return &MediaUploader{
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (u *MediaUploader) baseURL(mediaType MediaType) string {
	if u.BaseURLs != nil {
		if base, ok := u.BaseURLs[mediaType]; ok {
			return base
		}
	}
	return uploadURLs[mediaType]
}

// UploadToken derives the upload path token from the encrypted blob:
// unpadded base64url of its SHA-256.
func UploadToken(encryptedBlob []byte) string {
	return base64.RawURLEncoding.EncodeToString(sha256Sum(encryptedBlob))
}

// Upload POSTs an already-encrypted media blob and returns the hosted URL
// and direct path.
func (u *MediaUploader) Upload(ctx context.Context, conn MediaConn, mediaType MediaType, encryptedBlob []byte) (*MediaUploadResult, error) {
	token := UploadToken(encryptedBlob)

	q := url.Values{}
	q.Set("auth", conn.Auth)
	q.Set("token", token)
	uploadURL := fmt.Sprintf("%s/%s?%s", u.baseURL(mediaType), token, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(encryptedBlob))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Origin", WAOrigin)

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, &TransportError{Message: fmt.Sprintf("media upload: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TransportError{Message: fmt.Sprintf("media upload status %d", resp.StatusCode)}
	}

	var result MediaUploadResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse upload response: %w", err)
	}
	return &result, nil
}
