// Package crc8 computes the 8-bit frame checksum written by rewrite rules.
//
// Parameters: polynomial 0x85, MSB first, initial value 0x00, no reflection
// and no final XOR. Check value over "123456789" is 0x2A.
package crc8

import (
	sigurn "github.com/sigurn/crc8"
)

// Poly is the generator polynomial (x^8 + x^7 + x^2 + 1).
const Poly = 0x85

// Width of the checksummed region and position of the result in a classic frame.
const (
	InputLen = 7
	Index    = 7
)

// Params describes the checksum in the catalogue form used by sigurn/crc8.
var Params = sigurn.Params{
	Poly:   Poly,
	Init:   0x00,
	RefIn:  false,
	RefOut: false,
	XorOut: 0x00,
	Check:  0x2A,
	Name:   "CRC-8/BRIDGE",
}

var table = sigurn.MakeTable(Params)

// Update continues a checksum over data.
func Update(crc byte, data []byte) byte {
	return sigurn.Complete(sigurn.Update(crc, data, table), table)
}

// Checksum returns the checksum of data starting from 0.
func Checksum(data []byte) byte { return sigurn.Checksum(data, table) }

// Seal computes the checksum over data[0:7] and stores it in data[7].
func Seal(data *[8]byte) byte {
	crc := Checksum(data[:InputLen])
	data[Index] = crc
	return crc
}
