package parallel

import "fmt"
import "runtime"

import "github.com/klauspost/cpuid/v2"

// MinParallelSize is the number of scalar values below which splitting work
// across goroutines costs more than it saves.
const MinParallelSize = 1 << 14

// Workers returns the number of goroutines worth running for CPU-bound work.
func Workers() int {
	n := cpuid.CPU.LogicalCores
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if max := runtime.GOMAXPROCS(0); n > max {
		n = max
	}
	if n < 1 {
		n = 1
	}
	return n
}

// WorkersFor returns Workers() for jobs of at least MinParallelSize values
// and 1 otherwise.
func WorkersFor(size int) int {
	if size < MinParallelSize {
		return 1
	}
	return Workers()
}

// Vector reports the widest SIMD extension the CPU supports.
func Vector() string {
	switch {
	case cpuid.CPU.Supports(cpuid.AVX512F, cpuid.AVX512DQ):
		return "avx512"
	case cpuid.CPU.Supports(cpuid.AVX2):
		return "avx2"
	case cpuid.CPU.Supports(cpuid.AVX):
		return "avx"
	case cpuid.CPU.Supports(cpuid.ASIMD):
		return "asimd"
	default:
		return "none"
	}
}

// Describe returns a one-line summary of the host CPU for training logs.
func Describe() string {
	brand := cpuid.CPU.BrandName
	if brand == "" {
		brand = runtime.GOARCH
	}
	return fmt.Sprintf("%s, %d logical cores, %d workers, simd %s", brand, cpuid.CPU.LogicalCores, Workers(), Vector())
}
