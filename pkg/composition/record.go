package composition

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/citymesh/meshcfg-go/pkg/wire"
)

// Record layout sizes.
const (
	HeaderSize        = 10
	ElementHeaderSize = 4
	SIGModelSize      = 2
	VendorModelSize   = 4
)

// Feature bits advertised in the header.
const (
	FeatureRelay    uint16 = 1 << 0
	FeatureProxy    uint16 = 1 << 1
	FeatureFriend   uint16 = 1 << 2
	FeatureLowPower uint16 = 1 << 3
)

// ErrTruncated is returned when the record ends inside a field.
var ErrTruncated = errors.New("composition data truncated")

// Header is the fixed part of composition data page 0.
type Header struct {
	CompanyID uint16
	ProductID uint16
	VersionID uint16
	CRPL      uint16
	Features  uint16
}

// Element lists the models hosted by one element of a node.
type Element struct {
	Location     uint16
	SIGModels    []uint16
	VendorModels []wire.ModelID
}

// Record is a composition data page as returned by a node.
// Data excludes the page number.
type Record struct {
	Page uint8
	Data []byte
}

// NewRecord copies a composition data status into a Record.
func NewRecord(msg wire.CompositionDataStatus) Record {
	return Record{Page: msg.Page, Data: append([]byte(nil), msg.Data...)}
}

// Len returns the declared length of the record data.
func (r Record) Len() int {
	return len(r.Data)
}

// Header decodes the record header.
func (r Record) Header() (Header, error) {
	if len(r.Data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrTruncated, HeaderSize, len(r.Data))
	}
	d := r.Data
	return Header{
		CompanyID: binary.LittleEndian.Uint16(d[0:]),
		ProductID: binary.LittleEndian.Uint16(d[2:]),
		VersionID: binary.LittleEndian.Uint16(d[4:]),
		CRPL:      binary.LittleEndian.Uint16(d[6:]),
		Features:  binary.LittleEndian.Uint16(d[8:]),
	}, nil
}

// Elements decodes every element in the record. On a truncated record the
// elements decoded before the truncation are returned with ErrTruncated.
func (r Record) Elements() ([]Element, error) {
	if _, err := r.Header(); err != nil {
		return nil, err
	}

	var elems []Element
	off := HeaderSize
	for off < len(r.Data) {
		eh, ok := readElementHeader(r.Data, off)
		if !ok {
			return elems, fmt.Errorf("%w: element %d header at offset %d", ErrTruncated, len(elems), off)
		}
		end := eh.vendorOffset + int(eh.numVendor)*VendorModelSize
		if end > len(r.Data) {
			return elems, fmt.Errorf("%w: element %d declares %d+%d models past offset %d",
				ErrTruncated, len(elems), eh.numSIG, eh.numVendor, len(r.Data))
		}

		e := Element{Location: eh.location}
		for i := 0; i < int(eh.numSIG); i++ {
			e.SIGModels = append(e.SIGModels, binary.LittleEndian.Uint16(r.Data[off+ElementHeaderSize+i*SIGModelSize:]))
		}
		for i := 0; i < int(eh.numVendor); i++ {
			e.VendorModels = append(e.VendorModels, readVendorModel(r.Data, eh.vendorOffset+i*VendorModelSize))
		}
		elems = append(elems, e)
		off = end
	}
	return elems, nil
}

// Encode builds page 0 record data from a header and elements.
func Encode(h Header, elems []Element) []byte {
	buf := make([]byte, 0, HeaderSize)
	for _, v := range []uint16{h.CompanyID, h.ProductID, h.VersionID, h.CRPL, h.Features} {
		buf = binary.LittleEndian.AppendUint16(buf, v)
	}
	for _, e := range elems {
		buf = binary.LittleEndian.AppendUint16(buf, e.Location)
		buf = append(buf, uint8(len(e.SIGModels)), uint8(len(e.VendorModels)))
		for _, id := range e.SIGModels {
			buf = binary.LittleEndian.AppendUint16(buf, id)
		}
		for _, m := range e.VendorModels {
			buf = binary.LittleEndian.AppendUint16(buf, m.CompanyID)
			buf = binary.LittleEndian.AppendUint16(buf, m.ModelID)
		}
	}
	return buf
}

type elementHeader struct {
	location     uint16
	numSIG       uint8
	numVendor    uint8
	vendorOffset int
}

// readElementHeader decodes the element header at off. It fails if the header
// or the SIG model array that follows it runs past the data.
func readElementHeader(data []byte, off int) (elementHeader, bool) {
	if off < 0 || off+ElementHeaderSize > len(data) {
		return elementHeader{}, false
	}
	eh := elementHeader{
		location:  binary.LittleEndian.Uint16(data[off:]),
		numSIG:    data[off+2],
		numVendor: data[off+3],
	}
	eh.vendorOffset = off + ElementHeaderSize + int(eh.numSIG)*SIGModelSize
	if eh.vendorOffset > len(data) {
		return elementHeader{}, false
	}
	return eh, true
}

func readVendorModel(data []byte, off int) wire.ModelID {
	return wire.ModelID{
		CompanyID: binary.LittleEndian.Uint16(data[off:]),
		ModelID:   binary.LittleEndian.Uint16(data[off+2:]),
	}
}
