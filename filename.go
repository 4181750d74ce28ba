package wdcap

import (
	"strconv"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"
)

// maxFilenameLength bounds the rendered filename, matching the original
// tool's fixed scratch buffer. A template that would overflow this is a
// fatal configuration error for the caller.
const maxFilenameLength = 10000

// extKind selects the suffix appended to a rendered filename for merged
// output files. It has no effect when threadID >= 0 (interim files always
// get a "--<threadID>" suffix instead).
type extKind int

const (
	extNone extKind = iota
	extDone
	extStats
)

// renderFilename implements the two-pass filename templating algorithm
// described in the filename templating design: custom tokens are resolved
// first (because they may themselves contain '%' characters that strftime
// would try to interpret), then the result is run through a strftime-style
// pass against the UTC representation of the interval start time.
//
// threadID is the writer identity: >= 0 for an interim file written by
// that processing thread, -1 for the merged output. ext only applies when
// threadID < 0.
func renderFilename(cfg *Config, intervalStart uint32, threadID int, needFormatPrefix bool, ext extKind) (string, error) {
	var b strings.Builder

	if needFormatPrefix {
		b.WriteString(cfg.format())
		b.WriteByte(':')
	}

	tmpl := cfg.Template
	extension := cfg.extension()

	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		if c != '%' || i+1 >= len(tmpl) {
			b.WriteByte(c)
			continue
		}

		switch tmpl[i+1] {
		case 'm':
			b.WriteString(cfg.MonitorID)
			i++
		case 'P':
			b.WriteString("wdcap")
			i++
		case 'X':
			b.WriteString(extension)
			i++
		case 's':
			b.WriteString(strconv.FormatUint(uint64(intervalStart), 10))
			i++
		default:
			// Leave untouched for the strftime pass below.
			b.WriteByte(c)
		}

		if b.Len() > maxFilenameLength {
			return "", ErrFilenameOverflow
		}
	}

	if threadID >= 0 {
		b.WriteString("--")
		b.WriteString(strconv.Itoa(threadID))
	} else {
		switch ext {
		case extDone:
			b.WriteString(".done")
		case extStats:
			b.WriteString(".stats")
		}
	}

	if b.Len() > maxFilenameLength {
		return "", ErrFilenameOverflow
	}

	f, err := strftime.New(b.String())
	if err != nil {
		return "", err
	}

	rendered := f.FormatString(time.Unix(int64(intervalStart), 0).UTC())
	if len(rendered) > maxFilenameLength {
		return "", ErrFilenameOverflow
	}

	return rendered, nil
}
