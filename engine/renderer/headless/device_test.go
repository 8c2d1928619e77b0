package headless

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spaghettifunk/pensieve/engine/renderer/gpu"
)

func hasViolation(d *Device, substr string) bool {
	for _, v := range d.Violations() {
		if strings.Contains(v.Error(), substr) {
			return true
		}
	}
	return false
}

func recordEmpty(t *testing.T, d *Device) (gpu.CommandAllocator, gpu.CommandList) {
	t.Helper()
	a, err := d.CreateCommandAllocator()
	if err != nil {
		t.Fatal(err)
	}
	l, err := d.CreateCommandList(a)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Reset(a); err != nil {
		t.Fatal(err)
	}
	return a, l
}

func TestWorkRunsOnlyWhenWaitedFor(t *testing.T) {
	d := New(Options{})
	src, _ := d.CreateBuffer(gpu.BufferDesc{Name: "src", Size: 4, Heap: gpu.HeapUpload})
	dst, _ := d.CreateBuffer(gpu.BufferDesc{Name: "dst", Size: 4})
	mapped, err := src.Map()
	if err != nil {
		t.Fatal(err)
	}
	copy(mapped, "abcd")

	_, l := recordEmpty(t, d)
	l.CopyBuffer(dst, 0, src, 0, 4)
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	fence, _ := d.CreateFence(0)
	if err := d.Queue().Submit(l); err != nil {
		t.Fatal(err)
	}
	if err := d.Queue().Signal(fence, 1); err != nil {
		t.Fatal(err)
	}

	if got := string(dst.(*Buffer).Contents()); got == "abcd" {
		t.Fatal("copy ran before anyone waited")
	}
	if d.Pending() != 2 || fence.CompletedValue() != 0 {
		t.Fatalf("pending %d, completed %d", d.Pending(), fence.CompletedValue())
	}
	if err := fence.Wait(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if got := string(dst.(*Buffer).Contents()); got != "abcd" {
		t.Fatalf("destination holds %q", got)
	}
	if err := fence.Wait(context.Background(), 2); err == nil {
		t.Fatal("waiting for an unsignaled value must fail instead of hanging")
	}
}

func TestMisuseIsRecorded(t *testing.T) {
	tests := []struct {
		name      string
		violation string
		misuse    func(t *testing.T, d *Device)
	}{
		{
			name:      "allocator reset while executing",
			violation: "command allocator reset",
			misuse: func(t *testing.T, d *Device) {
				a, l := recordEmpty(t, d)
				_ = l.Close()
				_ = d.Queue().Submit(l)
				if err := a.Reset(); err == nil {
					t.Error("reset of a busy allocator should fail")
				}
			},
		},
		{
			name:      "submit open list",
			violation: "submitted while open",
			misuse: func(t *testing.T, d *Device) {
				_, l := recordEmpty(t, d)
				if err := d.Queue().Submit(l); err == nil {
					t.Error("submitting an open list should fail")
				}
			},
		},
		{
			name:      "fence goes backwards",
			violation: "fence signaled with 1 after 2",
			misuse: func(t *testing.T, d *Device) {
				f, _ := d.CreateFence(0)
				_ = d.Queue().Signal(f, 2)
				_ = d.Queue().Signal(f, 1)
			},
		},
		{
			name:      "wrong barrier state",
			violation: "expects RenderTarget",
			misuse: func(t *testing.T, d *Device) {
				tex, _ := d.CreateTexture(gpu.TextureDesc{Name: "t", Width: 1, Height: 1, Format: gpu.FormatRGBA8Unorm, InitialState: gpu.StateCopyDest})
				_, l := recordEmpty(t, d)
				l.Barrier(tex, gpu.StateRenderTarget, gpu.StatePresent)
				_ = l.Close()
				_ = d.Queue().Submit(l)
				d.Step()
			},
		},
		{
			name:      "draw outside render pass",
			violation: "draw outside",
			misuse: func(t *testing.T, d *Device) {
				_, l := recordEmpty(t, d)
				l.DrawMeshlets(1, 1)
				_ = l.Close()
				_ = d.Queue().Submit(l)
				d.Step()
			},
		},
		{
			name:      "resize with work pending",
			violation: "resized with 1 GPU operations pending",
			misuse: func(t *testing.T, d *Device) {
				sc, _ := d.CreateSwapChain(gpu.SwapChainDesc{Width: 4, Height: 4, BufferCount: 2, Format: gpu.FormatRGBA8Unorm})
				f, _ := d.CreateFence(0)
				_ = d.Queue().Signal(f, 1)
				_ = sc.Resize(8, 8)
			},
		},
		{
			name:      "resize with back buffer held",
			violation: "back buffer 0 still referenced",
			misuse: func(t *testing.T, d *Device) {
				sc, _ := d.CreateSwapChain(gpu.SwapChainDesc{Width: 4, Height: 4, BufferCount: 2, Format: gpu.FormatRGBA8Unorm})
				sc.BackBuffer(0)
				_ = sc.Resize(8, 8)
			},
		},
		{
			name:      "present without transition",
			violation: "presented in state Undefined",
			misuse: func(t *testing.T, d *Device) {
				sc, _ := d.CreateSwapChain(gpu.SwapChainDesc{Width: 4, Height: 4, BufferCount: 2, Format: gpu.FormatRGBA8Unorm})
				_ = sc.Present()
				d.Step()
			},
		},
		{
			name:      "leak",
			violation: "still alive at device release",
			misuse: func(t *testing.T, d *Device) {
				_, _ = d.CreateFence(0)
				d.Release()
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(Options{})
			tt.misuse(t, d)
			if !hasViolation(d, tt.violation) {
				t.Fatalf("expected a violation containing %q, got %v", tt.violation, d.Violations())
			}
		})
	}
}

func TestFailAfter(t *testing.T) {
	d := New(Options{})
	d.FailAfter("CreateBuffer", 2)
	for i := 0; i < 2; i++ {
		if _, err := d.CreateBuffer(gpu.BufferDesc{Size: 1}); err != nil {
			t.Fatalf("call %d failed early: %v", i, err)
		}
	}
	if _, err := d.CreateBuffer(gpu.BufferDesc{Size: 1}); !errors.Is(err, ErrInjected) {
		t.Fatalf("expected the third call to fail, got %v", err)
	}
	if _, err := d.CreateBuffer(gpu.BufferDesc{Size: 1}); err != nil {
		t.Fatalf("failure should trigger once, got %v", err)
	}
	if n := len(d.Live()); n != 3 {
		t.Fatalf("expected 3 live buffers, got %d", n)
	}
}

func TestFeatures(t *testing.T) {
	f := New(Options{Tearing: true}).Features()
	if f.DeviceName != "headless" || !f.Tearing || f.MaxDescriptors != 1<<20 {
		t.Fatalf("unexpected features %+v", f)
	}
}
