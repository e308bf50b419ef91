package hardware

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"runtime"
	"strings"
)

// CPUInfoPath is where the board revision is read from on Linux.
const CPUInfoPath = "/proc/cpuinfo"

// Info describes the board the station runs on.
type Info struct {
	Model    string
	Family   string
	Revision string
	Arch     string
}

// IsRaspberryPi reports whether the board was identified as a Pi.
func (i Info) IsRaspberryPi() bool { return i.Family != "Generic" }

var revisions = map[string]string{
	"902120": "Raspberry Pi Zero 2 W",
	"a02082": "Raspberry Pi 3 Model B",
	"a22082": "Raspberry Pi 3 Model B",
	"a32082": "Raspberry Pi 3 Model B",
	"a020d3": "Raspberry Pi 3 Model B+",
	"a03111": "Raspberry Pi 4 Model B (1GB)",
	"b03111": "Raspberry Pi 4 Model B (2GB)",
	"c03111": "Raspberry Pi 4 Model B (4GB)",
	"d03111": "Raspberry Pi 4 Model B (8GB)",
	"c04170": "Raspberry Pi 5 (4GB)",
	"d04170": "Raspberry Pi 5 (8GB)",
}

var revisionRe = regexp.MustCompile(`Revision\s+:\s+([0-9a-f]+)`)

// Detect identifies the board from a cpuinfo file. A missing file means the
// process is not running on a Pi.
func Detect(path string) (Info, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Info{Model: "Non-Raspberry Pi Environment", Family: "Generic", Revision: "N/A", Arch: runtime.GOARCH}, nil
	}
	if err != nil {
		return Info{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(string(b)), nil
}

// Parse extracts the model from cpuinfo text.
func Parse(cpuinfo string) Info {
	match := revisionRe.FindStringSubmatch(cpuinfo)
	if match == nil {
		return Info{Model: "Unknown", Family: "Unknown", Revision: "Unknown", Arch: runtime.GOARCH}
	}
	rev := match[1]
	model, ok := revisions[rev]
	if !ok {
		model = fmt.Sprintf("Raspberry Pi (Revision: %s)", rev)
	}
	return Info{Model: model, Family: family(model), Revision: rev, Arch: runtime.GOARCH}
}

func family(model string) string {
	switch {
	case strings.Contains(model, "Zero 2 W"):
		return "Zero"
	case strings.Contains(model, "Pi 3"):
		return "3"
	case strings.Contains(model, "Pi 4"):
		return "4"
	case strings.Contains(model, "Pi 5"):
		return "5"
	}
	return "Unknown"
}
