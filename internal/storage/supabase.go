package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

type SupabaseStorage struct {
	baseURL    string
	serviceKey string
	bucket     string
	httpClient *http.Client
}

func NewSupabaseStorage(supabaseURL, serviceKey, bucket string) *SupabaseStorage {
	return &SupabaseStorage{
		baseURL:    supabaseURL + "/storage/v1",
		serviceKey: serviceKey,
		bucket:     bucket,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

func (s *SupabaseStorage) objectURL(key string) string {
	return fmt.Sprintf("%s/object/%s/%s", s.baseURL, s.bucket, key)
}

func (s *SupabaseStorage) Upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.objectURL(key), data)
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", contentType)
	// Re-running an episode replaces its captions.
	req.Header.Set("x-upsert", "true")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upload failed (%d): %s", resp.StatusCode, string(body))
	}
	return nil
}

func (s *SupabaseStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.objectURL(key), nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("download %s: %w", key, ErrNotFound)
	case resp.StatusCode >= 400:
		resp.Body.Close()
		return nil, fmt.Errorf("download failed (%d)", resp.StatusCode)
	}
	return resp.Body, nil
}

func (s *SupabaseStorage) Delete(ctx context.Context, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.objectURL(key), nil)
	if err != nil {
		return fmt.Errorf("create delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("delete failed (%d)", resp.StatusCode)
	}
	return nil
}

func (s *SupabaseStorage) URL(key string) string {
	return fmt.Sprintf("%s/object/public/%s/%s", s.baseURL, s.bucket, key)
}
