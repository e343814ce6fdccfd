package image

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/maximecb/zetavm/vm"
)

// Binary image wire format.
//
// A package is an arbitrary value graph, cycles included, so the graph
// is flattened into a node table: every object and array becomes one
// wireNode, and values reference nodes by table index. Scalars are
// stored inline. Canonical CBOR encoding keeps the byte form
// deterministic for a given graph.

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// wireValue is one value slot: a scalar inline, or a node reference.
type wireValue struct {
	T string  `cbor:"t"`
	B bool    `cbor:"b,omitempty"`
	I int32   `cbor:"i,omitempty"`
	F float32 `cbor:"f,omitempty"`
	S string  `cbor:"s,omitempty"`
	R uint32  `cbor:"r,omitempty"`
}

// Wire value kinds
const (
	wireUndef = "u"
	wireBool  = "b"
	wireInt32 = "i"
	wireF32   = "f"
	wireStr   = "s"
	wireNode  = "n"
)

// wireNodeRec is a flattened object or array.
type wireNodeRec struct {
	Kind   string      `cbor:"k"` // "obj" or "arr"
	Fields []string    `cbor:"f,omitempty"`
	Vals   []wireValue `cbor:"v,omitempty"`
}

// wireImage is the top-level encoding: the node table plus the root.
type wireImage struct {
	Nodes []wireNodeRec `cbor:"nodes"`
	Root  wireValue     `cbor:"root"`
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

type encoder struct {
	nodes   []wireNodeRec
	indices map[vm.Value]uint32
}

// EncodeImage serializes a package value graph to CBOR bytes.
func EncodeImage(root vm.Value) ([]byte, error) {
	enc := &encoder{indices: make(map[vm.Value]uint32)}
	rootVal, err := enc.encodeValue(root)
	if err != nil {
		return nil, err
	}
	return cborEncMode.Marshal(&wireImage{Nodes: enc.nodes, Root: rootVal})
}

func (enc *encoder) encodeValue(v vm.Value) (wireValue, error) {
	switch v.Tag() {
	case vm.TagUndef:
		return wireValue{T: wireUndef}, nil
	case vm.TagBool:
		return wireValue{T: wireBool, B: v.BoolVal()}, nil
	case vm.TagInt32:
		return wireValue{T: wireInt32, I: v.Int32Val()}, nil
	case vm.TagFloat32:
		return wireValue{T: wireF32, F: v.Float32Val()}, nil
	case vm.TagString:
		return wireValue{T: wireStr, S: vm.StringVal(v)}, nil
	case vm.TagObject, vm.TagArray:
		idx, err := enc.encodeNode(v)
		if err != nil {
			return wireValue{}, err
		}
		return wireValue{T: wireNode, R: idx}, nil
	default:
		return wireValue{}, fmt.Errorf("image: cannot serialize a %s value", v.Tag())
	}
}

func (enc *encoder) encodeNode(v vm.Value) (uint32, error) {
	if idx, ok := enc.indices[v]; ok {
		return idx, nil
	}

	// Reserve the index before filling so cycles terminate
	idx := uint32(len(enc.nodes))
	enc.indices[v] = idx
	enc.nodes = append(enc.nodes, wireNodeRec{})

	var rec wireNodeRec
	if v.IsObject() {
		obj := vm.ObjectVal(v)
		rec.Kind = "obj"
		rec.Fields = append(rec.Fields, obj.FieldNames()...)
		for _, name := range rec.Fields {
			fieldVal, _ := obj.GetField(name)
			wv, err := enc.encodeValue(fieldVal)
			if err != nil {
				return 0, err
			}
			rec.Vals = append(rec.Vals, wv)
		}
	} else {
		arr := vm.ArrayVal(v)
		rec.Kind = "arr"
		for i := 0; i < arr.Length(); i++ {
			wv, err := enc.encodeValue(arr.GetElem(i))
			if err != nil {
				return 0, err
			}
			rec.Vals = append(rec.Vals, wv)
		}
	}

	enc.nodes[idx] = rec
	return idx, nil
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// DecodeImage deserializes a package value graph from CBOR bytes.
func DecodeImage(data []byte) (vm.Value, error) {
	var img wireImage
	if err := cbor.Unmarshal(data, &img); err != nil {
		return vm.Undef, fmt.Errorf("image: unmarshal image: %w", err)
	}

	// Allocate all node shells first so references, cyclic ones
	// included, resolve during the fill
	shells := make([]vm.Value, len(img.Nodes))
	for i, rec := range img.Nodes {
		switch rec.Kind {
		case "obj":
			shells[i] = vm.NewObject(len(rec.Fields))
		case "arr":
			shells[i] = vm.NewArray(len(rec.Vals))
		default:
			return vm.Undef, fmt.Errorf("image: unknown node kind %q", rec.Kind)
		}
	}

	for i, rec := range img.Nodes {
		if rec.Kind == "obj" {
			if len(rec.Fields) != len(rec.Vals) {
				return vm.Undef, fmt.Errorf("image: object node %d field/value mismatch", i)
			}
			obj := vm.ObjectVal(shells[i])
			for j, name := range rec.Fields {
				val, err := decodeValue(rec.Vals[j], shells)
				if err != nil {
					return vm.Undef, err
				}
				obj.SetField(name, val)
			}
		} else {
			// The shell was allocated with the final length
			arr := vm.ArrayVal(shells[i])
			for j, wv := range rec.Vals {
				val, err := decodeValue(wv, shells)
				if err != nil {
					return vm.Undef, err
				}
				arr.SetElem(j, val)
			}
		}
	}

	return decodeValue(img.Root, shells)
}

func decodeValue(wv wireValue, shells []vm.Value) (vm.Value, error) {
	switch wv.T {
	case wireUndef:
		return vm.Undef, nil
	case wireBool:
		return vm.Bool(wv.B), nil
	case wireInt32:
		return vm.Int32(wv.I), nil
	case wireF32:
		return vm.Float32(wv.F), nil
	case wireStr:
		return vm.NewString(wv.S), nil
	case wireNode:
		if int(wv.R) >= len(shells) {
			return vm.Undef, fmt.Errorf("image: node reference %d out of range", wv.R)
		}
		return shells[wv.R], nil
	default:
		return vm.Undef, fmt.Errorf("image: unknown value kind %q", wv.T)
	}
}
