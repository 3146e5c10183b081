package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/anime-shed/photo-locator-go/pkg/models"
)

func writeJPEG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, x%h, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	path := filepath.Join(dir, "photo.jpg")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"locate"}, args...))
	return out.String(), err
}

func TestRun_NormalizesAndPrintsLocation(t *testing.T) {
	var got models.AnalyzeImageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"location":"Table Mountain, Cape Town, South Africa. Accuracy: 89%"}`)
	}))
	defer srv.Close()

	path := writeJPEG(t, t.TempDir(), 300, 150)
	out, err := runApp(t, "--server", srv.URL, "--hint", "Cape Town", "--max-width", "100", "--max-height", "100", path)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if !strings.Contains(out, "preview: 100x50 image/jpeg") {
		t.Errorf("Expected preview line, got %q", out)
	}
	if !strings.Contains(out, "Table Mountain, Cape Town") {
		t.Errorf("Expected location in output, got %q", out)
	}
	if got.UserLocation != "Cape Town" || got.Base64Image == "" {
		t.Errorf("Unexpected request %+v", got)
	}
}

func TestRun_FailureExitsNonZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"service is not configured","kind":"config_error"}`)
	}))
	defer srv.Close()

	path := writeJPEG(t, t.TempDir(), 20, 20)
	out, err := runApp(t, "--server", srv.URL, path)

	var exitErr cli.ExitCoder
	if err == nil || !errors.As(err, &exitErr) || exitErr.ExitCode() != 1 {
		t.Fatalf("Expected exit code 1, got %v", err)
	}
	if !strings.Contains(out, "config_error") {
		t.Errorf("Expected failure kind in output, got %q", out)
	}
}

func TestRun_UndecodableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("not an image"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	out, err := runApp(t, "--server", "http://127.0.0.1:1", path)
	if err == nil {
		t.Fatal("Expected error for undecodable file")
	}
	if !strings.Contains(out, "decode_error") {
		t.Errorf("Expected decode_error in output, got %q", out)
	}
}

func TestRun_NoArgs(t *testing.T) {
	_, err := runApp(t)

	var exitErr cli.ExitCoder
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 2 {
		t.Errorf("Expected exit code 2, got %v", err)
	}
}
