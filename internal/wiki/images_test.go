package wiki

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
)

// pngBytes returns a payload of size bytes starting with the PNG signature.
func pngBytes(size int) []byte {
	signature := []byte("\x89PNG\r\n\x1a\n")
	if size < len(signature) {
		return signature[:size]
	}
	return append(signature, bytes.Repeat([]byte{0}, size-len(signature))...)
}

func TestSaveImageSizeBoundary(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := setupRepository(t)
	svc := setupService(t, repo)

	id, err := svc.SaveImage(ctx, pngBytes(MaxImageBytes), "image/png", "max.png")
	if err != nil {
		t.Fatalf("expected payload of exactly %d bytes to be accepted: %v", MaxImageBytes, err)
	}
	if len(id) != 8 {
		t.Fatalf("expected 8 character id, got %q", id)
	}

	if _, err := svc.SaveImage(ctx, pngBytes(MaxImageBytes+1), "image/png", "big.png"); !eris.Is(err, ErrImageTooLarge) {
		t.Fatalf("expected ErrImageTooLarge, got %v", err)
	}

	images, err := repo.GetImages(ctx, []string{id})
	if err != nil {
		t.Fatalf("GetImages returned error: %v", err)
	}
	if len(images) != 1 {
		t.Fatalf("expected only the accepted image to be stored, got %d", len(images))
	}
}

func TestSaveImageRejectsNonImages(t *testing.T) {
	t.Parallel()

	svc := setupService(t, setupRepository(t))
	ctx := context.Background()

	if _, err := svc.SaveImage(ctx, []byte("hello"), "text/plain", "notes.txt"); !eris.Is(err, ErrUnsupportedImageType) {
		t.Fatalf("expected ErrUnsupportedImageType for declared type, got %v", err)
	}
	if _, err := svc.SaveImage(ctx, []byte("plain words"), "", "sniffed"); !eris.Is(err, ErrUnsupportedImageType) {
		t.Fatalf("expected ErrUnsupportedImageType for sniffed type, got %v", err)
	}
	if _, err := svc.SaveImage(ctx, nil, "image/png", "empty.png"); !eris.Is(err, ErrEmptyImage) {
		t.Fatalf("expected ErrEmptyImage, got %v", err)
	}
}

func TestSaveImageSniffsMissingType(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := setupRepository(t)
	svc := setupService(t, repo)

	id, err := svc.SaveImage(ctx, pngBytes(64), "", "sniffed.png")
	if err != nil {
		t.Fatalf("SaveImage returned error: %v", err)
	}

	images, err := repo.GetImages(ctx, []string{id})
	if err != nil {
		t.Fatalf("GetImages returned error: %v", err)
	}
	if images[id].MimeType != "image/png" {
		t.Fatalf("expected sniffed image/png, got %q", images[id].MimeType)
	}
}

func TestResolveImageRefsLeavesUnknownRefs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := setupService(t, setupRepository(t))

	id, err := svc.SaveImage(ctx, pngBytes(32), "image/png", "known.png")
	if err != nil {
		t.Fatalf("SaveImage returned error: %v", err)
	}

	html := `<img src="` + ImageRef(id) + `"><img src="img:unknown1"><img src="` + ImageRef(id) + `">`
	resolved := svc.ResolveImageRefs(ctx, html)

	if strings.Contains(resolved, ImageRef(id)) {
		t.Fatalf("expected known references to be replaced, got %q", resolved)
	}
	if strings.Count(resolved, "data:image/png;base64,") != 2 {
		t.Fatalf("expected both known references inlined, got %q", resolved)
	}
	if !strings.Contains(resolved, `src="img:unknown1"`) {
		t.Fatalf("expected unknown reference to stay intact, got %q", resolved)
	}
}

func TestResolveImageRefsOnlyTouchesSrcAttributes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := setupService(t, setupRepository(t))

	id, err := svc.SaveImage(ctx, pngBytes(32), "image/png", "inline.png")
	if err != nil {
		t.Fatalf("SaveImage returned error: %v", err)
	}

	prose := "<p>Write " + ImageRef(id) + " to embed</p><pre><code>![x](" + ImageRef(id) + ")</code></pre>"
	html := prose + `<img src="` + ImageRef(id) + `" alt="` + ImageRef(id) + `">`
	resolved := svc.ResolveImageRefs(ctx, html)

	if !strings.HasPrefix(resolved, prose) {
		t.Fatalf("expected text references to stay intact, got %q", resolved)
	}
	if !strings.Contains(resolved, `<img src="data:image/png;base64,`) {
		t.Fatalf("expected src attribute inlined, got %q", resolved)
	}
	if !strings.Contains(resolved, `alt="`+ImageRef(id)+`"`) {
		t.Fatalf("expected alt attribute untouched, got %q", resolved)
	}
}

func TestResolveImageRefsWithoutRefsIsNoop(t *testing.T) {
	t.Parallel()

	svc := setupService(t, failingRepository{err: errStub("unused")})

	html := "<p>nothing here</p>"
	if got := svc.ResolveImageRefs(context.Background(), html); got != html {
		t.Fatalf("expected html unchanged, got %q", got)
	}
}

func TestResolveImageRefsKeepsHTMLOnLookupFailure(t *testing.T) {
	t.Parallel()

	svc := setupService(t, failingRepository{err: errStub("offline")})

	html := `<img src="img:abcd1234">`
	if got := svc.ResolveImageRefs(context.Background(), html); got != html {
		t.Fatalf("expected html unchanged on failure, got %q", got)
	}
}

func TestGetImageRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := setupService(t, setupRepository(t))
	payload := pngBytes(40)

	id, err := svc.SaveImage(ctx, payload, "image/png", "round.png")
	if err != nil {
		t.Fatalf("SaveImage returned error: %v", err)
	}

	image, err := svc.GetImage(ctx, ImageRef(id))
	if err != nil {
		t.Fatalf("GetImage returned error: %v", err)
	}
	raw, mediaType, err := DecodeImage(image)
	if err != nil {
		t.Fatalf("DecodeImage returned error: %v", err)
	}
	if mediaType != "image/png" || !bytes.Equal(raw, payload) {
		t.Fatalf("unexpected decoded image %q (%d bytes)", mediaType, len(raw))
	}

	if _, err := svc.GetImage(ctx, "missing1"); !eris.Is(err, ErrImageNotFound) {
		t.Fatalf("expected ErrImageNotFound, got %v", err)
	}
}
