package assets

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestFetchURL(t *testing.T) {
	body := []byte("fake mp3 bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "audio.bin")
	if err := NewFetcher().FetchURL(context.Background(), server.URL, dest, 0); err != nil {
		t.Fatalf("FetchURL failed: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("failed to read %s: %v", dest, err)
	}
	if string(got) != string(body) {
		t.Errorf("downloaded content mismatch: %q", got)
	}
}

func TestFetchURLNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "audio.bin")
	if err := NewFetcher().FetchURL(context.Background(), server.URL, dest, 0); err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestWriteDataURL(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G'}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)

	dest := filepath.Join(t.TempDir(), "src.png")
	if err := WriteDataURL(dataURL, dest); err != nil {
		t.Fatalf("WriteDataURL failed: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("failed to read decoded image: %v", err)
	}
	if string(got) != string(raw) {
		t.Errorf("decoded bytes mismatch: %v", got)
	}
}

func TestWriteDataURLRejectsNonImage(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out")

	cases := []string{
		"data:text/plain;base64,aGVsbG8=",
		"https://example.com/image.png",
		"data:image/png;base64,%%%not-base64%%%",
		"",
	}
	for _, dataURL := range cases {
		if err := WriteDataURL(dataURL, dest); err == nil {
			t.Errorf("expected error for %q", dataURL)
		}
	}
}
