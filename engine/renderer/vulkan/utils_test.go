package vulkan

import (
	"errors"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/pensieve/engine/core"
	"github.com/spaghettifunk/pensieve/engine/renderer/gpu"
)

func TestResultError(t *testing.T) {
	tests := []struct {
		result vk.Result
		want   error
	}{
		{vk.ErrorDeviceLost, core.ErrDeviceLost},
		{vk.ErrorOutOfDate, core.ErrSwapchainOutOfDate},
	}
	for _, tt := range tests {
		err := resultError("vkTest", tt.result)
		if !errors.Is(err, tt.want) {
			t.Errorf("resultError(%s) = %v, want %v", VulkanResultString(tt.result), err, tt.want)
		}
	}

	if err := resultError("vkTest", vk.Success); err != nil {
		t.Errorf("resultError(VK_SUCCESS) = %v", err)
	}
	err := resultError("vkTest", vk.ErrorOutOfDeviceMemory)
	if err == nil || err.Error() != "vkTest failed with VK_ERROR_OUT_OF_DEVICE_MEMORY" {
		t.Errorf("unexpected error %v", err)
	}
}

func TestFormatsRoundTrip(t *testing.T) {
	for _, f := range []gpu.Format{
		gpu.FormatRGBA8Unorm,
		gpu.FormatRGBA8UnormSRGB,
		gpu.FormatBGRA8Unorm,
		gpu.FormatBGRA8UnormSRGB,
		gpu.FormatD32Float,
	} {
		if got := gpuFormat(vkFormat(f)); got != f {
			t.Errorf("%s round trips to %s", f, got)
		}
	}
	if vkFormat(gpu.FormatUnknown) != vk.FormatUndefined {
		t.Error("unknown format maps to a Vulkan format")
	}
}

func TestAccessForStates(t *testing.T) {
	tests := []struct {
		state  gpu.ResourceState
		layout vk.ImageLayout
	}{
		{gpu.StateUndefined, vk.ImageLayoutUndefined},
		{gpu.StateCopyDest, vk.ImageLayoutTransferDstOptimal},
		{gpu.StateShaderResource, vk.ImageLayoutShaderReadOnlyOptimal},
		{gpu.StateRenderTarget, vk.ImageLayoutColorAttachmentOptimal},
		{gpu.StateDepthWrite, vk.ImageLayoutDepthStencilAttachmentOptimal},
		{gpu.StatePresent, vk.ImageLayoutPresentSrc},
	}
	for _, tt := range tests {
		if got := accessFor(tt.state).layout; got != tt.layout {
			t.Errorf("%s: layout %d, want %d", tt.state, got, tt.layout)
		}
	}
}

func TestLockPoolSerializesGroups(t *testing.T) {
	pool := NewVulkanLockPool()
	calls := 0
	err := pool.SafeCall(QueueManagement, func() error {
		calls++
		// A different group must not block while QueueManagement is held.
		return pool.SafeCall(DescriptorManagement, func() error {
			calls++
			return nil
		})
	})
	if err != nil || calls != 2 {
		t.Fatalf("SafeCall: err %v, calls %d", err, calls)
	}

	want := errors.New("boom")
	if err := pool.SafeCall(QueueManagement, func() error { return want }); err != want {
		t.Errorf("SafeCall returned %v, want %v", err, want)
	}
}
