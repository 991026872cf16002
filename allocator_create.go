package brkalloc

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/brkalloc/internal/utils"
	"github.com/vkngwrapper/brkalloc/memutils/metadata"
	"github.com/vkngwrapper/brkalloc/sbrk"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

const (
	// AllocatorCreateExternallySynchronized ensures that this allocator will not be synchronized
	// internally. The consumer must guarantee it is used from only one goroutine at a time or is
	// synchronized by some other mechanism, but performance may improve because the internal mutex
	// is not used.
	AllocatorCreateExternallySynchronized CreateFlags = 1 << iota
	// AllocatorCreateValidateEveryOperation runs a full consistency check of the heap after every
	// allocate, resize and release, and panics if it fails. This is very slow.
	AllocatorCreateValidateEveryOperation
)

var allocatorCreateFlagsMapping = map[CreateFlags]string{
	AllocatorCreateExternallySynchronized: "AllocatorCreateExternallySynchronized",
	AllocatorCreateValidateEveryOperation: "AllocatorCreateValidateEveryOperation",
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for bit := CreateFlags(1); bit != 0 && bit <= f; bit <<= 1 {
		if f&bit == 0 {
			continue
		}

		name, known := allocatorCreateFlagsMapping[bit]
		if !known {
			name = "Unknown"
		}
		names = append(names, name)
	}

	return strings.Join(names, "|")
}

const (
	// DefaultHeapReserve is the amount of address space reserved by the process-wide allocator
	// returned from Default. It is equal to 256Mb.
	DefaultHeapReserve int = 256 * 1024 * 1024
)

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags
}

// New creates a new Allocator that hands out memory from the provided heap break. The Allocator
// takes ownership of the break: it is released by Allocator.Destroy.
//
// logger - The logger that allocator events will be reported to. If nil, slog.Default is used.
//
// brk - The heap region to allocate from. Any bytes already below its break are left alone.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, brk sbrk.Break, options CreateOptions) (*Allocator, error) {
	if brk == nil {
		return nil, errors.New("attempted to create an allocator without a heap break")
	}

	if logger == nil {
		logger = slog.Default()
	}

	allocator := &Allocator{
		logger:      logger,
		createFlags: options.Flags,
		mutex: utils.OptionalRWMutex{
			UseMutex: options.Flags&AllocatorCreateExternallySynchronized == 0,
		},
		heap:     brk,
		metadata: metadata.NewNextFitBlockMetadata(brk),
	}

	logger.Debug("created allocator",
		slog.String("flags", options.Flags.String()),
		slog.Int("initialBreak", brk.Current()),
	)

	return allocator, nil
}
