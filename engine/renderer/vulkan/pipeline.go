package vulkan

import (
	"errors"
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/pensieve/engine/core"
	"github.com/spaghettifunk/pensieve/engine/renderer/gpu"
)

/**
 * @brief Holds a Vulkan pipeline and its layout.
 */
type Pipeline struct {
	device *Device
	/** @brief The internal pipeline handle. */
	handle vk.Pipeline
	/** @brief The bindless set layout plus the draw parameter push constant. */
	layout vk.PipelineLayout
}

// CreatePipeline builds the meshlet pipeline. It has no vertex input: the
// vertex shader pulls everything through the bindless descriptor set, which
// must exist before any pipeline is created. Color targets always use the
// surface format.
func (d *Device) CreatePipeline(desc gpu.PipelineDesc) (_ gpu.Pipeline, err error) {
	if d.heap == nil {
		return nil, errors.New("pipeline created before the descriptor heap")
	}
	if desc.DepthFormat != gpu.FormatD32Float {
		return nil, fmt.Errorf("pipeline %q: unsupported depth format %s", desc.Name, desc.DepthFormat)
	}
	renderPass, err := d.mainRenderPass()
	if err != nil {
		return nil, err
	}

	p := &Pipeline{device: d}
	defer func() {
		if err != nil {
			p.Release()
		}
	}()

	vertex, err := NewShaderStage(d, desc.Name+".vert", desc.VertexSPIRV, vk.ShaderStageVertexBit)
	if err != nil {
		return nil, err
	}
	defer vertex.Destroy(d)
	fragment, err := NewShaderStage(d, desc.Name+".frag", desc.FragmentSPIRV, vk.ShaderStageFragmentBit)
	if err != nil {
		return nil, err
	}
	defer fragment.Destroy(d)

	// Both stages size their descriptor arrays with constant 0.
	capacity := d.heap.capacity
	specialization := vk.SpecializationInfo{
		MapEntryCount: 1,
		PMapEntries:   []vk.SpecializationMapEntry{{ConstantID: 0, Offset: 0, Size: 4}},
		DataSize:      4,
		PData:         unsafe.Pointer(&capacity),
	}
	vertex.ShaderStageCreateInfo.PSpecializationInfo = []vk.SpecializationInfo{specialization}
	fragment.ShaderStageCreateInfo.PSpecializationInfo = []vk.SpecializationInfo{specialization}

	pushConstantRanges := []vk.PushConstantRange{{
		StageFlags: vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit),
		Offset:     0,
		Size:       pushConstantSize,
	}}
	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         1,
		PSetLayouts:            []vk.DescriptorSetLayout{d.heap.layout},
		PushConstantRangeCount: uint32(len(pushConstantRanges)),
		PPushConstantRanges:    pushConstantRanges,
	}
	if res := vk.CreatePipelineLayout(d.handle, &pipelineLayoutCreateInfo, nil, &p.layout); res != vk.Success {
		return nil, resultError("vkCreatePipelineLayout", res)
	}

	// Viewport and scissor are dynamic.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                vk.CullModeFlags(vk.CullModeNone),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:  vk.False,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:       vk.True,
		DepthWriteEnable:      vk.True,
		DepthCompareOp:        vk.CompareOpLess,
		DepthBoundsTestEnable: vk.False,
		StencilTestEnable:     vk.False,
	}

	colorBlendAttachmentState := vk.PipelineColorBlendAttachmentState{
		BlendEnable: vk.False,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit |
			vk.ColorComponentBBit | vk.ColorComponentABit),
	}
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{colorBlendAttachmentState},
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}

	stages := []vk.PipelineShaderStageCreateInfo{
		vertex.ShaderStageCreateInfo,
		fragment.ShaderStageCreateInfo,
	}
	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              p.layout,
		RenderPass:          renderPass,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	if res := vk.CreateGraphicsPipelines(d.handle, vk.NullPipelineCache, 1, []vk.GraphicsPipelineCreateInfo{pipelineCreateInfo}, nil, pipelines); res != vk.Success {
		return nil, resultError("vkCreateGraphicsPipelines", res)
	}
	p.handle = pipelines[0]

	core.LogDebug("graphics pipeline %q created", desc.Name)
	return p, nil
}

func (p *Pipeline) Release() {
	d := p.device
	if p.handle != nil {
		vk.DestroyPipeline(d.handle, p.handle, nil)
		p.handle = nil
	}
	if p.layout != nil {
		vk.DestroyPipelineLayout(d.handle, p.layout, nil)
		p.layout = nil
	}
}
