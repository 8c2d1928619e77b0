package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

/**
 * @brief Represents a single shader stage.
 */
type VulkanShaderStage struct {
	/** @brief The shader module handle. */
	Handle vk.ShaderModule
	/** @brief The pipeline shader stage creation info. */
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

func NewShaderStage(d *Device, name string, code []uint32, stage vk.ShaderStageFlagBits) (*VulkanShaderStage, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("shader %q has no SPIR-V code", name)
	}
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code) * 4),
		PCode:    code,
	}

	s := &VulkanShaderStage{}
	if res := vk.CreateShaderModule(d.handle, &createInfo, nil, &s.Handle); res != vk.Success {
		return nil, fmt.Errorf("shader %q: %w", name, resultError("vkCreateShaderModule", res))
	}
	s.ShaderStageCreateInfo = vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  stage,
		Module: s.Handle,
		PName:  VulkanSafeString("main"),
	}
	return s, nil
}

func (s *VulkanShaderStage) Destroy(d *Device) {
	if s.Handle != nil {
		vk.DestroyShaderModule(d.handle, s.Handle, nil)
		s.Handle = nil
	}
}
