package vmdk

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/aarsakian/VMDK_Dump/extent"
	"github.com/aarsakian/VMDK_Dump/logger"
)

const (
	descriptorSignature = "# Disk DescriptorFile"
	maxDescriptorSize   = 1 << 20
	noParentCID         = "ffffffff"
	streamOptimized     = "streamOptimized"
)

var (
	ErrNoDescriptor  = errors.New("no embedded descriptor")
	ErrBadDescriptor = errors.New("descriptor signature not found")
)

var extentLine = regexp.MustCompile(`^(\w+)\s+(\d+)\s+(\w+)(?:\s+"([^"]*)")?`)

// Descriptor
type Descriptor struct {
	Version            string
	Encoding           string
	CID                string
	ParentCID          string
	IsNativeSnaphost   string
	CreateType         string
	ParentFileNameHint string
	Extents            []ExtentDescription
	DDB                map[string]string //disk database
}

type ExtentDescription struct {
	AccessMode string
	NofSectors int64
	ExtentType string
	Filename   string
}

// ReadDescriptor loads the descriptor embedded in a sparse extent.
func ReadDescriptor(r io.ReaderAt, sparseH *extent.SparseHeader) (*Descriptor, error) {
	if sparseH.DescriptorOffset == 0 || sparseH.DescriptorSize == 0 {
		return nil, ErrNoDescriptor
	}
	size := sparseH.DescriptorSize.Bytes()
	if size > maxDescriptorSize {
		return nil, fmt.Errorf("descriptor of %d bytes exceeds %d: %w", size, maxDescriptorSize, extent.ErrImplausibleMetadata)
	}
	data := make([]byte, size)
	n, err := r.ReadAt(data, sparseH.DescriptorOffset.Bytes())
	if n < len(data) {
		if err == nil || errors.Is(err, io.EOF) {
			err = extent.ErrTruncatedInput
		}
		return nil, &extent.FormatError{Offset: sparseH.DescriptorOffset.Bytes(), Op: "read descriptor",
			Detail: fmt.Sprintf("expected %d bytes, got %d", len(data), n), Err: err}
	}
	return ParseDescriptor(data)
}

func ParseDescriptor(data []byte) (*Descriptor, error) {
	if idx := bytes.IndexByte(data, 0); idx >= 0 {
		data = data[:idx]
	}
	desc := &Descriptor{DDB: map[string]string{}}
	lines := bytes.Split(data, []byte("\n"))
	for idx, rawLine := range lines {
		line := strings.TrimSpace(string(rawLine))
		if idx == 0 {
			if line != descriptorSignature {
				logger.VMDKlogger.Warning(fmt.Sprintf("Signature not found %s", line))
				return nil, fmt.Errorf("%w: first line is %q", ErrBadDescriptor, line)
			}
			continue
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		attr, content, found := strings.Cut(line, "=")
		if !found {
			if extent_, ok := parseExtentLine(line); ok {
				desc.Extents = append(desc.Extents, extent_)
			}
			continue
		}
		attr = strings.TrimSpace(attr)
		content = strings.Trim(strings.TrimSpace(content), `"`)

		switch {
		case attr == "version":
			desc.Version = content
		case attr == "encoding":
			desc.Encoding = content
		case attr == "CID":
			desc.CID = content
		case attr == "parentCID":
			desc.ParentCID = content
		case attr == "isNativeSnapshot":
			desc.IsNativeSnaphost = content
		case attr == "createType":
			desc.CreateType = content
		case attr == "parentFileNameHint":
			desc.ParentFileNameHint = content
		case strings.HasPrefix(attr, "ddb."):
			desc.DDB[strings.TrimPrefix(attr, "ddb.")] = content
		}
	}
	return desc, nil
}

func parseExtentLine(line string) (ExtentDescription, bool) {
	cols := extentLine.FindStringSubmatch(line)
	if cols == nil {
		return ExtentDescription{}, false
	}
	nofsectors, err := strconv.ParseInt(cols[2], 10, 64)
	if err != nil {
		logger.VMDKlogger.Error(err)
		return ExtentDescription{}, false
	}
	return ExtentDescription{AccessMode: cols[1],
		NofSectors: nofsectors,
		ExtentType: cols[3],
		Filename:   cols[4]}, true
}

func (desc Descriptor) HasParent() bool {
	return desc.ParentCID != "" && desc.ParentCID != noParentCID
}

func (desc Descriptor) IsStreamOptimized() bool {
	return desc.CreateType == streamOptimized
}

func (desc Descriptor) GetHDSize() int64 {
	totalSize := int64(0)
	for _, extent_ := range desc.Extents {
		totalSize += extent_.NofSectors
	}
	return totalSize * extent.SectorSize
}

func (desc Descriptor) String() string {
	var b strings.Builder
	b.WriteString("=== Embedded Descriptor ===\n")
	fmt.Fprintf(&b, "Version: %s\n", desc.Version)
	if desc.Encoding != "" {
		fmt.Fprintf(&b, "Encoding: %s\n", desc.Encoding)
	}
	fmt.Fprintf(&b, "CID: %s\n", desc.CID)
	fmt.Fprintf(&b, "Parent CID: %s\n", desc.ParentCID)
	fmt.Fprintf(&b, "Create Type: %s\n", desc.CreateType)
	if desc.HasParent() {
		fmt.Fprintf(&b, "Parent File: %s\n", desc.ParentFileNameHint)
	}
	for _, extent_ := range desc.Extents {
		fmt.Fprintf(&b, "Extent: %s %d %s %q\n", extent_.AccessMode, extent_.NofSectors,
			extent_.ExtentType, extent_.Filename)
	}
	for _, key := range sortedKeys(desc.DDB) {
		fmt.Fprintf(&b, "ddb.%s: %s\n", key, desc.DDB[key])
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
