package spi

import "encoding/binary"

// Every bus transaction opens with a 16 bit command word sent MSB first: the
// top 4 bits select the instruction, the bottom 12 bits carry the register
// address.
const (
	cmdReset     = 0x0000
	cmdWrite     = 0x2000
	cmdRead      = 0x3000
	cmdWriteCRC  = 0xA000
	cmdReadCRC   = 0xB000
	cmdWriteSafe = 0xC000

	addrMask = 0x0FFF
)

func putCommand(b []byte, instruction uint16, addr uint16) {
	binary.BigEndian.PutUint16(b, instruction|(addr&addrMask))
}
