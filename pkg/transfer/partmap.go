package transfer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sort"
)

// PartMap is the persistent record of completed byte intervals for a given
// (target path, total size, validator) tuple. It is kept in memory by the
// Scheduler and flushed to a sidecar file after every completed segment.
type PartMap struct {
	TargetPath string
	TotalSize  int64
	Validator  string

	intervals []interval
}

type interval struct {
	Start, End int64
}

const (
	partMapMagic   = "KDLPM\x00\x00\x00" // padded to 8 bytes
	partMapVersion = uint16(1)
	headerLen      = 16 // 8 magic + 2 version + 1 + 1 reserved + 4 flags
)

// SidecarPath returns the partmap path for a given target file:
// "<target>.kdl.partmap".
func SidecarPath(targetPath string) string {
	return targetPath + ".kdl.partmap"
}

// NewPartMap creates an empty PartMap for a fresh transfer.
func NewPartMap(targetPath string, totalSize int64, validator string) *PartMap {
	return &PartMap{TargetPath: targetPath, TotalSize: totalSize, Validator: validator}
}

// Add records [start, end) as durably written and coalesces it with any
// adjacent or overlapping interval already recorded.
func (pm *PartMap) Add(start, end int64) {
	pm.intervals = append(pm.intervals, interval{start, end})
	pm.intervals = coalesce(pm.intervals)
}

// Intervals returns the sorted, disjoint set of completed intervals.
func (pm *PartMap) Intervals() []interval {
	out := make([]interval, len(pm.intervals))
	copy(out, pm.intervals)
	return out
}

// CompletedBytes sums every interval's length.
func (pm *PartMap) CompletedBytes() int64 {
	var n int64
	for _, iv := range pm.intervals {
		n += iv.End - iv.Start
	}
	return n
}

// IsComplete reports whether the union of intervals covers [0, TotalSize).
func (pm *PartMap) IsComplete() bool {
	return pm.TotalSize >= 0 && pm.CompletedBytes() == pm.TotalSize
}

func coalesce(ivs []interval) []interval {
	if len(ivs) < 2 {
		return ivs
	}
	sort.Slice(ivs, func(i, j int) bool { return ivs[i].Start < ivs[j].Start })
	out := ivs[:1]
	for _, iv := range ivs[1:] {
		last := &out[len(out)-1]
		if iv.Start <= last.End {
			if iv.End > last.End {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Encode serializes the PartMap to its binary sidecar layout.
func (pm *PartMap) Encode() []byte {
	buf := new(bytes.Buffer)
	buf.WriteString(partMapMagic)
	_ = binary.Write(buf, binary.LittleEndian, partMapVersion)
	buf.WriteByte(0) // reserved
	buf.WriteByte(0) // reserved
	_ = binary.Write(buf, binary.LittleEndian, uint32(0)) // flags

	_ = binary.Write(buf, binary.LittleEndian, pm.TotalSize)

	validator := []byte(pm.Validator)
	_ = binary.Write(buf, binary.LittleEndian, uint16(len(validator)))
	buf.Write(validator)

	ivs := coalesce(append([]interval{}, pm.intervals...))
	for _, iv := range ivs {
		_ = binary.Write(buf, binary.LittleEndian, uint64(iv.Start))
		_ = binary.Write(buf, binary.LittleEndian, uint64(iv.End))
	}

	sum := crc32.ChecksumIEEE(buf.Bytes())
	out := buf.Bytes()
	out = append(out, 0, 0, 0, 0)
	binary.LittleEndian.PutUint32(out[len(out)-4:], sum)
	return out
}

// DecodePartMap parses the binary layout produced by Encode, verifying the
// magic, version, and trailing CRC32.
func DecodePartMap(data []byte) (*PartMap, error) {
	if len(data) < headerLen+8+2+4 {
		return nil, fmt.Errorf("partmap: truncated (%d bytes)", len(data))
	}
	body, trailer := data[:len(data)-4], data[len(data)-4:]
	wantCRC := binary.LittleEndian.Uint32(trailer)
	if gotCRC := crc32.ChecksumIEEE(body); gotCRC != wantCRC {
		return nil, fmt.Errorf("partmap: crc mismatch (want %x got %x)", wantCRC, gotCRC)
	}

	r := bytes.NewReader(body)
	magic := make([]byte, 8)
	if _, err := r.Read(magic); err != nil {
		return nil, fmt.Errorf("partmap: %w", err)
	}
	if string(magic) != partMapMagic {
		return nil, fmt.Errorf("partmap: bad magic %q", magic)
	}
	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != partMapVersion {
		return nil, fmt.Errorf("partmap: unsupported version %d", version)
	}
	if _, err := r.Seek(2, 1); err != nil { // reserved bytes
		return nil, err
	}
	var flags uint32
	if err := binary.Read(r, binary.LittleEndian, &flags); err != nil {
		return nil, err
	}

	pm := &PartMap{}
	if err := binary.Read(r, binary.LittleEndian, &pm.TotalSize); err != nil {
		return nil, err
	}
	var vlen uint16
	if err := binary.Read(r, binary.LittleEndian, &vlen); err != nil {
		return nil, err
	}
	validator := make([]byte, vlen)
	if _, err := r.Read(validator); err != nil {
		return nil, fmt.Errorf("partmap: %w", err)
	}
	pm.Validator = string(validator)

	for r.Len() > 0 {
		if r.Len() < 16 {
			return nil, fmt.Errorf("partmap: truncated interval record")
		}
		var start, end uint64
		_ = binary.Read(r, binary.LittleEndian, &start)
		_ = binary.Read(r, binary.LittleEndian, &end)
		pm.intervals = append(pm.intervals, interval{int64(start), int64(end)})
	}
	pm.intervals = coalesce(pm.intervals)
	return pm, nil
}

// Load reads and validates the sidecar for targetPath, discarding (not
// erroring) on any mismatch against the current probe result.
func Load(targetPath string, totalSize int64, validator string) (*PartMap, bool) {
	data, err := os.ReadFile(SidecarPath(targetPath))
	if err != nil {
		return nil, false
	}
	pm, err := DecodePartMap(data)
	if err != nil {
		return nil, false
	}
	if pm.TotalSize != totalSize || pm.Validator != validator {
		return nil, false
	}
	pm.TargetPath = targetPath
	return pm, true
}

// Save atomically persists pm: write to "<target>.kdl.partmap.tmp" then
// rename over the old sidecar.
func (pm *PartMap) Save() error {
	path := SidecarPath(pm.TargetPath)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, pm.Encode(), 0o644); err != nil {
		return newErr(KindWriteFailed, isTransientWriteErr(err), fmt.Errorf("writing %s: %w", tmp, err))
	}
	if err := os.Rename(tmp, path); err != nil {
		return newErr(KindWriteFailed, isTransientWriteErr(err), fmt.Errorf("renaming %s: %w", tmp, err))
	}
	return nil
}

// Remove deletes the sidecar on successful end-to-end completion.
func (pm *PartMap) Remove() error {
	err := os.Remove(SidecarPath(pm.TargetPath))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func isTransientWriteErr(err error) bool {
	return os.IsTimeout(err)
}
