package scene

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/image/math/f32"
)

// Magic opens every scene file, including the terminating zero byte.
const Magic = "pensieve\x00"

const (
	// maxElements caps any count read from a file.
	maxElements = 1 << 28
	// maxTextureDimension caps texture width and height.
	maxTextureDimension = 1 << 15
	// readChunkBytes bounds a single allocation while reading arrays so that
	// a truncated file fails before a huge allocation is made.
	readChunkBytes = 1 << 22
)

var (
	ErrBadMagic  = errors.New("not a pensieve scene file")
	ErrTruncated = errors.New("scene file truncated")
	ErrTooLarge  = errors.New("scene element count implausibly large")
)

var order = binary.LittleEndian

type decoder struct {
	r   io.Reader
	err error
	buf [8]byte
}

func (d *decoder) fail(what string, err error) {
	if d.err != nil {
		return
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		d.err = fmt.Errorf("reading %s: %w", what, ErrTruncated)
		return
	}
	d.err = fmt.Errorf("reading %s: %w", what, err)
}

func (d *decoder) read(what string, n int) []byte {
	if d.err != nil {
		return nil
	}
	if _, err := io.ReadFull(d.r, d.buf[:n]); err != nil {
		d.fail(what, err)
		return nil
	}
	return d.buf[:n]
}

func (d *decoder) u32(what string) uint32 {
	b := d.read(what, 4)
	if b == nil {
		return 0
	}
	return order.Uint32(b)
}

func (d *decoder) i32(what string) int32 {
	return int32(d.u32(what))
}

func (d *decoder) u64(what string) uint64 {
	b := d.read(what, 8)
	if b == nil {
		return 0
	}
	return order.Uint64(b)
}

func (d *decoder) count(what string) uint64 {
	n := d.u64(what)
	if d.err == nil && n > maxElements {
		d.err = fmt.Errorf("%s %d: %w", what, n, ErrTooLarge)
		return 0
	}
	return n
}

func (d *decoder) fixed(what string, v any) {
	if d.err != nil {
		return
	}
	if err := binary.Read(d.r, order, v); err != nil {
		d.fail(what, err)
	}
}

// readSlice reads n fixed-size elements in bounded chunks.
func readSlice[T any](d *decoder, what string, n uint64) []T {
	if d.err != nil || n == 0 {
		return nil
	}
	var zero T
	chunk := uint64(readChunkBytes / binary.Size(zero))
	out := make([]T, 0, min(n, chunk))
	for uint64(len(out)) < n {
		k := min(n-uint64(len(out)), chunk)
		start := len(out)
		out = append(out, make([]T, k)...)
		if err := binary.Read(d.r, order, out[start:]); err != nil {
			d.fail(what, err)
			return nil
		}
	}
	return out
}

// Read decodes a scene from r.
func Read(r io.Reader) (*SceneData, error) {
	d := &decoder{r: r}

	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil {
		d.fail("magic", err)
		return nil, d.err
	}
	if string(magic) != Magic {
		return nil, ErrBadMagic
	}

	s := &SceneData{}

	texCount := d.count("texture count")
	s.Textures = make([]TextureData, 0, min(texCount, 1024))
	for i := uint64(0); i < texCount && d.err == nil; i++ {
		w := d.u32("texture width")
		h := d.u32("texture height")
		if d.err == nil && (w > maxTextureDimension || h > maxTextureDimension) {
			return nil, fmt.Errorf("texture %d is %dx%d: %w", i, w, h, ErrTooLarge)
		}
		s.Textures = append(s.Textures, TextureData{
			Width:  w,
			Height: h,
			Bytes:  readSlice[byte](d, "texture bytes", uint64(w)*uint64(h)*4),
		})
	}

	matCount := d.count("material count")
	s.Materials = make([]MaterialData, 0, min(matCount, 1024))
	for i := uint64(0); i < matCount && d.err == nil; i++ {
		var m MaterialData
		d.fixed("base color", &m.BaseColor)
		d.fixed("metallic", &m.Metallic)
		d.fixed("roughness", &m.Roughness)
		d.fixed("emission color", &m.EmissionColor)
		maps := [5]**uint32{&m.BaseColorMap, &m.MetallicMap, &m.RoughnessMap, &m.EmissionMap, &m.NormalMap}
		for _, dst := range maps {
			if d.i32("material map flag") != 0 {
				idx := d.u32("material map index")
				*dst = &idx
			}
		}
		s.Materials = append(s.Materials, m)
	}

	meshCount := d.count("mesh count")
	s.Meshes = make([]MeshData, 0, min(meshCount, 1024))
	for i := uint64(0); i < meshCount && d.err == nil; i++ {
		var m MeshData
		vertCount := d.count("vertex count")
		m.Positions = readSlice[f32.Vec4](d, "positions", vertCount)
		m.Normals = readSlice[f32.Vec4](d, "normals", vertCount)
		if d.i32("tangent flag") != 0 {
			m.Tangents = readSlice[f32.Vec4](d, "tangents", vertCount)
		}
		if d.i32("uv flag") != 0 {
			m.UVs = readSlice[f32.Vec2](d, "uvs", vertCount)
		}
		m.Meshlets = readSlice[MeshletData](d, "meshlets", d.count("meshlet count"))
		m.VertexIndices = readSlice[byte](d, "vertex indices", d.count("vertex index byte count"))
		m.TriangleIndices = readSlice[TriangleIndex](d, "triangles", d.count("triangle count"))
		m.MaterialIndex = d.u32("material index")
		s.Meshes = append(s.Meshes, m)
	}

	nodeCount := d.count("node count")
	s.Nodes = make([]NodeData, 0, min(nodeCount, 1024))
	for i := uint64(0); i < nodeCount && d.err == nil; i++ {
		var n NodeData
		n.MeshIndices = readSlice[uint32](d, "node mesh indices", d.count("node mesh index count"))
		d.fixed("node transform", &n.Transform)
		s.Nodes = append(s.Nodes, n)
	}

	if d.err != nil {
		return nil, d.err
	}
	return s, nil
}

type encoder struct {
	w   io.Writer
	err error
}

func (e *encoder) put(v any) {
	if e.err != nil {
		return
	}
	e.err = binary.Write(e.w, order, v)
}

func (e *encoder) flag(present bool) {
	var v int32
	if present {
		v = 1
	}
	e.put(v)
}

// Write encodes s to w. The output is byte-for-byte stable for a given scene.
func Write(w io.Writer, s *SceneData) error {
	e := &encoder{w: w}
	if _, err := io.WriteString(w, Magic); err != nil {
		return err
	}

	e.put(uint64(len(s.Textures)))
	for _, t := range s.Textures {
		e.put(t.Width)
		e.put(t.Height)
		e.put(t.Bytes)
	}

	e.put(uint64(len(s.Materials)))
	for i := range s.Materials {
		m := &s.Materials[i]
		e.put(m.BaseColor)
		e.put(m.Metallic)
		e.put(m.Roughness)
		e.put(m.EmissionColor)
		for _, idx := range m.Maps() {
			e.flag(idx != nil)
			if idx != nil {
				e.put(*idx)
			}
		}
	}

	e.put(uint64(len(s.Meshes)))
	for i := range s.Meshes {
		m := &s.Meshes[i]
		if len(m.Normals) != len(m.Positions) {
			return fmt.Errorf("mesh %d has %d positions but %d normals", i, len(m.Positions), len(m.Normals))
		}
		e.put(uint64(len(m.Positions)))
		e.put(m.Positions)
		e.put(m.Normals)
		e.flag(m.HasTangents())
		if m.HasTangents() {
			e.put(m.Tangents)
		}
		e.flag(m.HasUVs())
		if m.HasUVs() {
			e.put(m.UVs)
		}
		e.put(uint64(len(m.Meshlets)))
		e.put(m.Meshlets)
		e.put(uint64(len(m.VertexIndices)))
		e.put(m.VertexIndices)
		e.put(uint64(len(m.TriangleIndices)))
		e.put(m.TriangleIndices)
		e.put(m.MaterialIndex)
	}

	e.put(uint64(len(s.Nodes)))
	for _, n := range s.Nodes {
		e.put(uint64(len(n.MeshIndices)))
		e.put(n.MeshIndices)
		e.put(n.Transform)
	}
	return e.err
}

// Load reads the scene file at path.
func Load(path string) (*SceneData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	s, err := Read(bufio.NewReaderSize(f, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to load scene %s: %w", path, err)
	}
	return s, nil
}

// Save writes s to path, replacing any existing file.
func Save(path string, s *SceneData) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := Write(bw, s); err != nil {
		f.Close()
		return fmt.Errorf("failed to write scene %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
