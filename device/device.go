package device

// DeviceClass enumerates the accelerator classes this runtime can target
// (spec.md section 3 "(added) DeviceClass enumerates...").
type DeviceClass int

const (
	ClassCPU DeviceClass = iota
	ClassPTX
	ClassOpenCL
	ClassSPIR
)

func (c DeviceClass) String() string {
	switch c {
	case ClassCPU:
		return "cpu"
	case ClassPTX:
		return "ptx"
	case ClassOpenCL:
		return "opencl"
	case ClassSPIR:
		return "spir"
	}
	return "unknown"
}

// Capabilities is the query surface spec.md section 1 adds so callers and
// the Scan/Reduce Engine can branch without probing by trial launch.
type Capabilities struct {
	WarpSize             int32
	MaxGroupSize         int32
	MaxSharedMemoryBytes int64
	SupportsSinglePass   bool
	PreferredGroupSize   int32
	GridStrideK          int32 // device-tuned K for compute_grid_stride_kernel_config
	OpenCLVersion        string // e.g. "2.0"; empty when not applicable
}

// Device is a handle to one accelerator the Context has enumerated:
// a class, a human-readable name, and its capability set. Warp size is
// fixed at construction per spec.md section 4.C's resolved Open Question
// ("warp size is fixed per Device at construction... not configurable
// per-kernel").
type Device struct {
	ID           int
	Class        DeviceClass
	Name         string
	MemoryBytes  int64
	IsDebug      bool // true for the CPU emulator: always present, last-resort fallback
	Capabilities Capabilities
}

// NewCPUDevice constructs the always-present CPU emulator device with a
// fixed warp size of 32, per spec.md section 4.C's resolved ambiguity.
func NewCPUDevice(id int, memoryBytes int64) Device {
	return Device{
		ID:          id,
		Class:       ClassCPU,
		Name:        "cpu-emulator",
		MemoryBytes: memoryBytes,
		IsDebug:     true,
		Capabilities: Capabilities{
			WarpSize:             32,
			MaxGroupSize:         1024,
			MaxSharedMemoryBytes: 48 * 1024,
			SupportsSinglePass:   true,
			PreferredGroupSize:   256,
			GridStrideK:          4,
		},
	}
}
