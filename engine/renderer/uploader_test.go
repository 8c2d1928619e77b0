package renderer

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/spaghettifunk/pensieve/engine/core"
	"github.com/spaghettifunk/pensieve/engine/renderer/gpu"
	"github.com/spaghettifunk/pensieve/engine/renderer/headless"
)

func indexOf(events []headless.Event, kind headless.EventKind) int {
	for i, e := range events {
		if e.Kind == kind {
			return i
		}
	}
	return -1
}

func TestUploadToBufferBlocksUntilCopied(t *testing.T) {
	dev := headless.New(headless.Options{})
	up, err := NewUploader(dev, 64)
	if err != nil {
		t.Fatal(err)
	}
	defer up.Destroy()

	dst, err := dev.CreateBuffer(gpu.BufferDesc{Name: "dst", Size: 16})
	if err != nil {
		t.Fatal(err)
	}
	defer dst.Release()

	data := []byte("sixteen bytes!!!")
	if err := up.UploadToBuffer(context.Background(), data, dst); err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	if got := dst.(*headless.Buffer).Contents(); !bytes.Equal(got, data) {
		t.Fatalf("destination holds %q, expected %q", got, data)
	}
	if dev.Pending() != 0 {
		t.Fatalf("upload returned with %d GPU operations pending", dev.Pending())
	}

	events := dev.Events()
	submit, signal, copied, complete := indexOf(events, headless.EventSubmit), indexOf(events, headless.EventSignal),
		indexOf(events, headless.EventCopy), indexOf(events, headless.EventComplete)
	if !(submit < signal && signal < copied && copied < complete) {
		t.Fatalf("unexpected event order: %v", events)
	}
	if events[signal].Value != 1 {
		t.Fatalf("first upload should signal 1, got %d", events[signal].Value)
	}

	if err := up.UploadToBuffer(context.Background(), data[:4], dst); err != nil {
		t.Fatal(err)
	}
	if up.fenceValue != 2 {
		t.Fatalf("expected upload fence value 2, got %d", up.fenceValue)
	}
	if v := dev.Violations(); len(v) > 0 {
		t.Fatalf("unexpected violations: %v", v)
	}
}

func TestUploadToTextureTransitionsAfterCopy(t *testing.T) {
	dev := headless.New(headless.Options{})
	up, err := NewUploader(dev, 64)
	if err != nil {
		t.Fatal(err)
	}
	defer up.Destroy()

	tex, err := dev.CreateTexture(gpu.TextureDesc{
		Name:         "tex",
		Width:        2,
		Height:       2,
		Format:       gpu.FormatRGBA8UnormSRGB,
		InitialState: gpu.StateCopyDest,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer tex.Release()

	pixels := make([]byte, 16)
	for i := range pixels {
		pixels[i] = byte(i)
	}
	if err := up.UploadToTexture(context.Background(), pixels, 8, tex); err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	ht := tex.(*headless.Texture)
	if ht.State() != gpu.StateShaderResource {
		t.Fatalf("texture left in %s", ht.State())
	}
	if !bytes.Equal(ht.Contents(), pixels) {
		t.Fatal("texture contents differ from the uploaded pixels")
	}
	events := dev.Events()
	copied, barrier := indexOf(events, headless.EventCopy), indexOf(events, headless.EventBarrier)
	if copied < 0 || barrier < copied {
		t.Fatalf("barrier must follow the copy: %v", events)
	}
	if b := events[barrier]; b.Before != gpu.StateCopyDest || b.After != gpu.StateShaderResource {
		t.Fatalf("unexpected barrier %s", b)
	}
	if v := dev.Violations(); len(v) > 0 {
		t.Fatalf("unexpected violations: %v", v)
	}
}

func TestUploadOverflow(t *testing.T) {
	dev := headless.New(headless.Options{})
	up, err := NewUploader(dev, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer up.Destroy()

	dst, _ := dev.CreateBuffer(gpu.BufferDesc{Name: "dst", Size: 16})
	defer dst.Release()

	err = up.UploadToBuffer(context.Background(), make([]byte, 9), dst)
	if !errors.Is(err, core.ErrStagingOverflow) {
		t.Fatalf("expected ErrStagingOverflow, got %v", err)
	}
	if len(dev.EventsOf(headless.EventSubmit)) != 0 {
		t.Fatal("an oversized upload must not reach the queue")
	}
}

func TestUploaderDestroyReleasesEverything(t *testing.T) {
	dev := headless.New(headless.Options{})
	up, err := NewUploader(dev, 32)
	if err != nil {
		t.Fatal(err)
	}
	up.Destroy()
	if live := dev.Live(); len(live) != 0 {
		t.Fatalf("objects still alive: %v", live)
	}

	dev.FailAfter("CreateFence", 0)
	if _, err := NewUploader(dev, 32); !errors.Is(err, headless.ErrInjected) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if live := dev.Live(); len(live) != 0 {
		t.Fatalf("failed construction leaked: %v", live)
	}
}
