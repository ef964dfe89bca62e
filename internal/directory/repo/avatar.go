package repo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
)

var ErrAvatarNotFound = errors.New("avatar not found")

// StorageAvatars resolves storage references such as
// "user_uploads/abc/photo.jpg" to public download URLs, confirming the
// object exists with a HEAD request.
type StorageAvatars struct {
	base   string
	client *http.Client
}

// StorageAvatarsFromEnv returns nil when STORAGE_PUBLIC_URL is unset.
func StorageAvatarsFromEnv(client *http.Client) *StorageAvatars {
	base := os.Getenv("STORAGE_PUBLIC_URL")
	if base == "" {
		return nil
	}
	return NewStorageAvatars(base, client)
}

func NewStorageAvatars(base string, client *http.Client) *StorageAvatars {
	if client == nil {
		client = http.DefaultClient
	}
	return &StorageAvatars{base: strings.TrimRight(base, "/"), client: client}
}

func (s *StorageAvatars) ResolveURL(ctx context.Context, ref string) (string, error) {
	segs := strings.Split(strings.Trim(ref, "/"), "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	u := s.base + "/" + strings.Join(segs, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: %s", ErrAvatarNotFound, ref)
	case resp.StatusCode/100 != 2:
		return "", fmt.Errorf("storage status %d for %s", resp.StatusCode, ref)
	}
	return u, nil
}
