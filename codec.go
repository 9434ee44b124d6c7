package advfs

import (
	"bytes"
	"encoding/binary"
	"reflect"
)

// fixedSize returns the encoded size, in bytes, of v's exported fields, in
// declaration order. v must be a pointer to a struct whose exported fields
// are all fixed-size (integers, or arrays of fixed-size elements).
//
// Adapted from squashfs's Superblock.binarySize (super.go): a reflection
// walk over exported fields, skipping unexported ones by checking that the
// field name starts with an uppercase letter. Reused here for every
// on-device fixed-width record (Superblock, Inode, blockMgtEntry) instead of
// being duplicated per type.
func fixedSize(v interface{}) int {
	rv := reflect.ValueOf(v).Elem()
	n := rv.NumField()
	sz := 0
	for i := 0; i < n; i++ {
		name := rv.Type().Field(i).Name
		if name[0] < 'A' || name[0] > 'Z' {
			continue
		}
		sz += int(rv.Field(i).Type().Size())
	}
	return sz
}

// marshalFixed encodes v's exported fields into a freshly allocated byte
// slice using order.
func marshalFixed(v interface{}, order binary.ByteOrder) []byte {
	rv := reflect.ValueOf(v).Elem()
	n := rv.NumField()
	buf := &bytes.Buffer{}
	buf.Grow(fixedSize(v))
	for i := 0; i < n; i++ {
		name := rv.Type().Field(i).Name
		if name[0] < 'A' || name[0] > 'Z' {
			continue
		}
		// binary.Write takes the field's value; arrays of fixed-size
		// elements encode the same way as scalars.
		if err := binary.Write(buf, order, rv.Field(i).Interface()); err != nil {
			panic("advfs: marshalFixed: " + err.Error())
		}
	}
	return buf.Bytes()
}

// unmarshalFixed decodes data into v's exported fields, in declaration
// order, using order. data must hold at least fixedSize(v) bytes.
func unmarshalFixed(data []byte, v interface{}, order binary.ByteOrder) error {
	rv := reflect.ValueOf(v).Elem()
	n := rv.NumField()
	r := bytes.NewReader(data)
	for i := 0; i < n; i++ {
		name := rv.Type().Field(i).Name
		if name[0] < 'A' || name[0] > 'Z' {
			continue
		}
		if err := binary.Read(r, order, rv.Field(i).Addr().Interface()); err != nil {
			return err
		}
	}
	return nil
}
