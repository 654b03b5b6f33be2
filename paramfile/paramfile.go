// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

// Package paramfile loads the TOML parameter manifests that customizer-style
// tooling uses to map friendly parameter identifiers onto VBus value
// indices, and provides the ID-hash function that resolves an identifier to
// its index over the wire when no manifest entry names the index directly.
package paramfile

import (
	"github.com/BurntSushi/toml"

	"github.com/resol-vbus/govbus/vbuserr"
)

// Parameter describes one tunable value: either ID or Index (or both) name
// it, Factor converts the raw wire value to/from an application-level unit,
// and Minimum/Maximum bound the application-level value.
type Parameter struct {
	ID      *string `toml:"id"`
	Index   *int16  `toml:"index"`
	Factor  float64 `toml:"factor"`
	Minimum float64 `toml:"minimum"`
	Maximum float64 `toml:"maximum"`
}

// ParameterFile is the decoded manifest: the device it targets, the
// changeset it was generated against, and the parameters it describes.
type ParameterFile struct {
	Address   uint16      `toml:"address"`
	Changeset uint32      `toml:"changeset"`
	Params    []Parameter `toml:"params"`
}

// Transaction pairs a resolved value index with the new value to write, or
// a nil Value to mean "read only".
type Transaction struct {
	IDOrIndex string
	Index     int16
	Param     Parameter
	Value     *float64
}

// Load reads and parses a parameter manifest from path.
func Load(path string) (ParameterFile, error) {
	var pf ParameterFile
	if _, err := toml.DecodeFile(path, &pf); err != nil {
		return ParameterFile{}, vbuserr.New("unable to parse parameter file %q: %v", path, err)
	}
	return pf, nil
}

// FindByIndex returns the parameter naming the given index, if any.
func (pf ParameterFile) FindByIndex(index int16) (Parameter, bool) {
	for _, p := range pf.Params {
		if p.Index != nil && *p.Index == index {
			return p, true
		}
	}
	return Parameter{}, false
}

// FindByID returns the parameter naming the given identifier, if any.
func (pf ParameterFile) FindByID(id string) (Parameter, bool) {
	for _, p := range pf.Params {
		if p.ID != nil && *p.ID == id {
			return p, true
		}
	}
	return Parameter{}, false
}

// ValueIDHash computes the 31-bit identifier hash VBus devices use to
// resolve a named value to its current index: iterate characters
// left-to-right, h = (h*0x21 + c) mod 2^32, masked to 31 bits.
func ValueIDHash(id string) int32 {
	var h uint32
	for _, c := range id {
		h = (h*0x21 + uint32(c)) & 0x7fffffff
	}
	return int32(h)
}
