package store

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// The vectors artifact uses the NumPy .npy format so it stays readable by numpy.load.

var npyMagic = []byte("\x93NUMPY")

// maxNPYDims bounds the row width accepted from a header before any row is allocated.
const maxNPYDims = 1 << 16

const maxNPYHeader = 1 << 16

var (
	npyDescrRe   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	npyFortranRe = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	npyShapeRe   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// WriteNPY writes rows as a little-endian float32 array of shape (len(rows), dims).
func WriteNPY(w io.Writer, rows [][]float32, dims int) error {
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d, %d), }", len(rows), dims)
	// magic(6) + version(2) + header length(2) + header, padded so data starts 64-byte aligned.
	total := len(npyMagic) + 4 + len(header) + 1
	if pad := total % 64; pad != 0 {
		header += strings.Repeat(" ", 64-pad)
	}
	header += "\n"
	if len(header) > math.MaxUint16 {
		return fmt.Errorf("npy header too long: %d bytes", len(header))
	}

	bw := bufio.NewWriter(w)
	bw.Write(npyMagic)
	bw.Write([]byte{1, 0})
	var hl [2]byte
	binary.LittleEndian.PutUint16(hl[:], uint16(len(header)))
	bw.Write(hl[:])
	bw.WriteString(header)

	buf := make([]byte, 4*dims)
	for i, row := range rows {
		if len(row) != dims {
			return fmt.Errorf("row %d has %d components, expected %d", i, len(row), dims)
		}
		for j, v := range row {
			binary.LittleEndian.PutUint32(buf[j*4:], math.Float32bits(v))
		}
		if _, err := bw.Write(buf); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	return bw.Flush()
}

// ReadNPY reads a two-dimensional little-endian float32 or float64 C-order array.
func ReadNPY(r io.Reader) (rows [][]float32, dims int, err error) {
	br := bufio.NewReader(r)
	prefix := make([]byte, len(npyMagic)+2)
	if _, err := io.ReadFull(br, prefix); err != nil {
		return nil, 0, fmt.Errorf("read npy magic: %w", err)
	}
	if !bytes.Equal(prefix[:len(npyMagic)], npyMagic) {
		return nil, 0, errors.New("not an npy file")
	}
	var headerLen int
	switch major := prefix[len(npyMagic)]; major {
	case 1:
		var hl [2]byte
		if _, err := io.ReadFull(br, hl[:]); err != nil {
			return nil, 0, fmt.Errorf("read npy header length: %w", err)
		}
		headerLen = int(binary.LittleEndian.Uint16(hl[:]))
	case 2, 3:
		var hl [4]byte
		if _, err := io.ReadFull(br, hl[:]); err != nil {
			return nil, 0, fmt.Errorf("read npy header length: %w", err)
		}
		headerLen = int(binary.LittleEndian.Uint32(hl[:]))
	default:
		return nil, 0, fmt.Errorf("unsupported npy version %d", major)
	}
	if headerLen > maxNPYHeader {
		return nil, 0, fmt.Errorf("npy header length %d exceeds %d", headerLen, maxNPYHeader)
	}
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, 0, fmt.Errorf("read npy header: %w", err)
	}

	descr, n, dims, err := parseNPYHeader(string(header))
	if err != nil {
		return nil, 0, err
	}
	width := 4
	if descr == "<f8" {
		width = 8
	}
	if dims == 0 && n > 0 {
		return nil, 0, fmt.Errorf("npy array has %d rows of width 0", n)
	}
	if dims > maxNPYDims {
		return nil, 0, fmt.Errorf("npy row width %d exceeds %d", dims, maxNPYDims)
	}
	// The header's row count is not trusted for allocation; rows grow as data is read,
	// so a truncated or corrupt file fails on the first missing row.
	rows = make([][]float32, 0, min(n, 1024))
	buf := make([]byte, width*dims)
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, 0, fmt.Errorf("read row %d of %d: %w", i, n, err)
		}
		row := make([]float32, dims)
		for j := range row {
			if width == 4 {
				row[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[j*4:]))
			} else {
				row[j] = float32(math.Float64frombits(binary.LittleEndian.Uint64(buf[j*8:])))
			}
		}
		rows = append(rows, row)
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return nil, 0, errors.New("trailing data after npy array")
	}
	return rows, dims, nil
}

func parseNPYHeader(header string) (descr string, n, dims int, err error) {
	m := npyDescrRe.FindStringSubmatch(header)
	if m == nil {
		return "", 0, 0, errors.New("npy header missing descr")
	}
	descr = m[1]
	if descr != "<f4" && descr != "<f8" {
		return "", 0, 0, fmt.Errorf("unsupported npy dtype %q", descr)
	}
	if m := npyFortranRe.FindStringSubmatch(header); m == nil || m[1] != "False" {
		return "", 0, 0, errors.New("npy array must be C-ordered")
	}
	m = npyShapeRe.FindStringSubmatch(header)
	if m == nil {
		return "", 0, 0, errors.New("npy header missing shape")
	}
	var shape []int
	for _, part := range strings.Split(m[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil || v < 0 {
			return "", 0, 0, fmt.Errorf("invalid npy shape %q", m[1])
		}
		shape = append(shape, v)
	}
	if len(shape) != 2 {
		return "", 0, 0, fmt.Errorf("npy array must be two-dimensional, got shape (%s)", m[1])
	}
	return descr, shape[0], shape[1], nil
}
